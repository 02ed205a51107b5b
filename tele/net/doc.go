// Minimal inter-module network transport for the EPS node.
//
// Endpoints exchange "frames" over a stream (TCP or unix socket).
// Frame payload is exactly one Packet: node addresses, ports and data.
// Frames are protected by CRC-8 (see package crc), there is no authentication.
//
// Server side: Socket.Listen, Socket.Bind, Socket.Accept returns Conn,
// one request and one reply per Conn.
// Client side (controller): Client.Request dials, sends a request and reads the reply.
//
// Packet buffers come from a fixed capacity Pool. Every Packet obtained
// must be either sent successfully (transport frees it) or freed by owner.
package telenet
