// Package protocol defines the wire format between depot clients and nodes.
//
// Every message travels in a frame: a big-endian uint32 body length and
// then the body. The body starts with a version byte and a tag byte,
// followed by the variant's fields. Strings and byte payloads carry a
// little-endian uint32 length prefix.
//
//	frame    = length:u32be body
//	body     = version:u8 tag:u8 fields
//	string   = len:u32le bytes
//
// Commands use tags 0x01 to 0x08 (see Kind). Responses use tag 0x80 and
// carry a message, a flags byte and the optional Data, Names and Nodes
// fields that the flags announce.
//
// Response messages begin with a stable Code such as "ok" or "not_found",
// optionally followed by ": " and a detail. Decoding failures of any kind
// wrap ErrProtocol; a server answers them with a protocol_error response
// and closes the connection.
package protocol
