// Package protocol defines the wire types of the device management
// protocol spoken between the console and backend instances.
//
// Every exchange is a command sent to one instance and a JSON response
// envelope whose "type" selects the payload:
//
//	{"type":"message",  "origin":"…", "message":"…"}
//	{"type":"confirm",  "origin":"…", "confirm":"…"}
//	{"type":"form",     "origin":"…", "form":{"title":…,"schema":…,"data":…}}
//	{"type":"progress", "origin":"…", "progress":{"open":true,"progress":40}}
//	{"type":"result",   "result":{"refresh":true|"instance"|"device","error":{…},"state":{…}}}
//
// Display strings may be plain or a locale map; see Text.
package protocol
