// Package node serves a depot node's command set.
//
// The Dispatcher is the single entry point: it takes a decoded
// protocol.Command, routes it to the file store or the membership table
// and returns exactly one protocol.Response. Two transports sit in front
// of it:
//
//	TCP  ──► Server ──► protocol.Conn ──┐
//	                                     ├──► Dispatcher ──► storage.Engine
//	HTTP ──► NewHTTPHandler ────────────┘                └─► cluster.Registry
//
// Error handling:
//   - InvalidName and NotFound are caller errors, answered with their code
//   - MediumError is logged at error level and answered with a generic
//     medium_error message
//   - ProtocolError ends the TCP connection after a best-effort reply
//
// No caller error ever closes a connection.
package node
