// Package stream runs the streaming session on the device's station address.
//
// One peer is served at a time. Each session is a single loop:
//
//  1. poll the socket for up to ReceivePoll; a timeout means no data yet
//  2. decode every complete inbound line and drive the alarm from it
//  3. capture a frame, classify it, send the best label per detection
//  4. sleep LoopInterval
//
// Peer disconnect, socket errors, send failures and classification
// failures end the session; the server then accepts the next peer. There
// are no goroutines inside a session.
package stream
