// Package connection implements the Channel Session component.
//
// A Session:
//   - Owns one persistent websocket connection to a single backend endpoint
//   - Negotiates and performs the JSON hub protocol handshake
//   - Drives the Disconnected/Connecting/Connected/Reconnecting/Closing state
//     machine, with terminal Aborted and Failed states
//   - Reconnects automatically with capped exponential backoff
//   - Dispatches inbound hub invocations to exactly one handler per event name
package connection
