// Package relay runs the per-connection protocol between administrators and
// devices.
//
// Every accepted connection is classified into an Identity, registered in
// the shared registry.Registry and then served by Relay.Serve until the
// transport fails. Inbound frames are parsed with the envelope package and
// routed:
//
//   - remote_control from an administrator goes to the named device as a
//     remote_control_command carrying the administrator's userId.
//   - remote_control_response from a device is broadcast to every connected
//     administrator, tagged with the device's identifier.
//
// Delivery is fire-and-forget. A frame whose target is absent or not ready
// for writing is dropped; nothing is queued, retried or acknowledged.
package relay
