package liveness

import (
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Instance is one backend instance that manages devices.
type Instance struct {
	ID      string                    `json:"id"`
	Adapter string                    `json:"adapter"`
	Number  int                       `json:"number"`
	Name    string                    `json:"name,omitempty"`
	Alive   bool                      `json:"alive"`
	Info    *protocol.InstanceDetails `json:"info,omitempty"`
}

// ParseID splits "zigbee.0" into its adapter name and instance number.
// An id without a numeric suffix yields number -1.
func ParseID(id string) (adapter string, number int) {
	i := strings.LastIndexByte(id, '.')
	if i < 0 {
		return id, -1
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return id, -1
	}
	return id[:i], n
}

// isInstanceObjectID reports whether an object id names an instance
// itself ("system.adapter.<name>.<n>") rather than one of its children.
func isInstanceObjectID(id string) bool {
	return strings.Count(id, ".") == 3
}

// EventType identifies what changed in the registry.
type EventType string

// Registry event types.
const (
	EventAdded        EventType = "added"
	EventRemoved      EventType = "removed"
	EventAliveChanged EventType = "alive_changed"
	EventInfoChanged  EventType = "info_changed"
)

// Event describes one registry change. Instance is a snapshot taken after
// the change was applied.
type Event struct {
	Type     EventType `json:"type"`
	Instance Instance  `json:"instance"`
}
