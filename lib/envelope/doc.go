// Package envelope defines the JSON frames exchanged over relay connections.
//
// Every frame is a JSON object with a string "type" discriminator. Inbound
// frames are decoded by Parse into one of a closed set of message kinds;
// any type the relay does not recognise decodes to Unknown so newer clients
// can talk to an older relay without being disconnected.
//
// Wire shapes:
//
//	admin  -> relay   {"type":"remote_control","deviceId":"D","command":"c","params":{...}}
//	relay  -> device  {"type":"remote_control_command","command":"c","params":{...},"userId":7}
//	device -> relay   {"type":"remote_control_response","command":"c","params":{...}, ...}
//	relay  -> admin   {"type":"remote_control_response","deviceId":"D", ...}
//
// Params are opaque: the relay never inspects them.
package envelope
