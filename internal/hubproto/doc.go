// Package hubproto implements the JSON hub protocol spoken between the cursor
// clients and the backend hub.
//
// Every record is a JSON object terminated by the 0x1E record separator. A
// websocket frame may carry several records. The first exchange on a new
// connection is the handshake; after that the peers trade invocations,
// completions, pings and close messages.
package hubproto
