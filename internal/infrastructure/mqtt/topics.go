package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixConsole is the root of every topic the console uses.
//
// The hierarchy mirrors the backend's object and state database:
//
//	graylogic/console/request/<instance>              commands to an instance
//	graylogic/console/response/<clientID>/<requestID> replies to one console
//	graylogic/console/state/<stateID>                 retained state values
//	graylogic/console/object/<objectID>               retained object definitions
//	graylogic/console/status/<clientID>               console online/offline (LWT)
const TopicPrefixConsole = "graylogic/console"

// Topics provides builders for the console's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("system.adapter.zigbee.0.alive")
//	// Returns: "graylogic/console/state/system.adapter.zigbee.0.alive"
type Topics struct{}

// Request returns the command topic for a backend instance.
//
// Parameters:
//   - instance: Instance identifier (e.g., "zigbee.0")
//
// Returns:
//   - string: Topic like "graylogic/console/request/zigbee.0"
func (Topics) Request(instance string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefixConsole, instance)
}

// Response returns the reply topic for one request issued by clientID.
//
// Parameters:
//   - clientID: Broker client ID of the requesting console
//   - requestID: Correlation ID carried in the request envelope
//
// Returns:
//   - string: Topic like "graylogic/console/response/console-1/7f3a"
func (Topics) Response(clientID, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixConsole, clientID, requestID)
}

// AllResponses returns the pattern matching every reply addressed to clientID.
func (Topics) AllResponses(clientID string) string {
	return fmt.Sprintf("%s/response/%s/+", TopicPrefixConsole, clientID)
}

// State returns the retained topic carrying a state value.
func (Topics) State(stateID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefixConsole, stateID)
}

// AllStates returns the pattern matching every state topic.
func (Topics) AllStates() string {
	return TopicPrefixConsole + "/state/#"
}

// Object returns the retained topic carrying an object definition.
func (Topics) Object(objectID string) string {
	return fmt.Sprintf("%s/object/%s", TopicPrefixConsole, objectID)
}

// AllObjects returns the pattern matching every object topic.
func (Topics) AllObjects() string {
	return TopicPrefixConsole + "/object/#"
}

// ConsoleStatus returns the online/offline status topic of a console.
func (Topics) ConsoleStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixConsole, clientID)
}

// StateID extracts the state identifier from a state topic.
func (Topics) StateID(topic string) (string, bool) {
	return trimKind(topic, "state")
}

// ObjectID extracts the object identifier from an object topic.
func (Topics) ObjectID(topic string) (string, bool) {
	return trimKind(topic, "object")
}

// RequestID extracts the request identifier from a response topic.
//
// Returns:
//   - string: The last topic level, e.g. "7f3a"
//   - bool: false if topic is not a response topic or has no request level
func (Topics) RequestID(topic string) (string, bool) {
	rest, ok := trimKind(topic, "response")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i < 0 || i == len(rest)-1 {
		return "", false
	}
	return rest[i+1:], true
}

// trimKind strips "graylogic/console/<kind>/" and rejects an empty remainder.
func trimKind(topic, kind string) (string, bool) {
	prefix := TopicPrefixConsole + "/" + kind + "/"
	if !strings.HasPrefix(topic, prefix) || len(topic) == len(prefix) {
		return "", false
	}
	return topic[len(prefix):], true
}
