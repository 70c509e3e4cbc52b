package device

import (
	"strings"

	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Group keys with special meaning.
const (
	GroupAll     = ""
	GroupUnknown = "?"
)

// GroupEntry is one choice of the group selector.
type GroupEntry struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Count int    `json:"count"`
}

// HasGroups reports whether any device carries a group.
func HasGroups(devices []protocol.Device) bool {
	for i := range devices {
		if devices[i].Group != nil {
			return true
		}
	}
	return false
}

// ApplyFilter narrows devices to those whose display name contains text
// (case-insensitive) and that belong to groupKey.
//
// The name filter runs first. The group restriction then only applies when
// at least one of the remaining devices has a group; GroupUnknown selects
// ungrouped devices. An empty filter returns devices unchanged.
//
// Parameters:
//   - devices: The loaded device list (not modified)
//   - text: Name filter; surrounding whitespace is ignored
//   - groupKey: Group to show, GroupAll or GroupUnknown
//   - lang: Language used to resolve translated names
//
// Returns:
//   - []protocol.Device: The matching devices in their original order
func ApplyFilter(devices []protocol.Device, text, groupKey, lang string) []protocol.Device {
	return RestrictGroup(FilterByName(devices, text, lang), groupKey)
}

// FilterByName keeps the devices whose display name contains text,
// ignoring case. An empty text returns devices unchanged.
func FilterByName(devices []protocol.Device, text, lang string) []protocol.Device {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return devices
	}

	out := make([]protocol.Device, 0, len(devices))
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name.Resolve(lang)), needle) {
			out = append(out, devices[i])
		}
	}
	return out
}

// RestrictGroup keeps the devices of groupKey. Lists without any grouped
// device are returned unchanged, whatever the key.
func RestrictGroup(devices []protocol.Device, groupKey string) []protocol.Device {
	if groupKey == GroupAll || !HasGroups(devices) {
		return devices
	}

	out := make([]protocol.Device, 0, len(devices))
	for i := range devices {
		if inGroup(&devices[i], groupKey) {
			out = append(out, devices[i])
		}
	}
	return out
}

func inGroup(d *protocol.Device, key string) bool {
	if key == GroupUnknown {
		return d.Group == nil
	}
	return d.Group != nil && d.Group.Key == key
}

// Groups lists the group selector entries: "All", one entry per group key
// in order of first appearance, and "Unknown" when some devices have no
// group. It returns nil when no device has a group.
//
// Counts are taken from the list given, so callers pass the name-filtered
// devices to get counts that match what the operator sees.
func Groups(devices []protocol.Device, lang string) []GroupEntry {
	if !HasGroups(devices) {
		return nil
	}

	entries := []GroupEntry{{Key: GroupAll, Name: "All", Count: len(devices)}}
	index := make(map[string]int)
	unknown := 0
	for i := range devices {
		g := devices[i].Group
		if g == nil {
			unknown++
			continue
		}
		if at, ok := index[g.Key]; ok {
			entries[at].Count++
			continue
		}
		name := g.Name.Resolve(lang)
		if name == "" {
			name = g.Key
		}
		index[g.Key] = len(entries)
		entries = append(entries, GroupEntry{Key: g.Key, Name: name, Icon: g.Icon, Count: 1})
	}
	if unknown > 0 {
		entries = append(entries, GroupEntry{Key: GroupUnknown, Name: "Unknown", Count: unknown})
	}
	return entries
}
