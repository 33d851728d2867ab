// Package protocol implements the line protocol spoken on the streaming session.
//
// Both directions carry newline-delimited UTF-8 JSON objects over plain TCP.
//
// # Inbound (peer to device)
//
//	{"drowsinessStatus":"MicroSleep"}\n
//
// Only drowsinessStatus is read; other fields are ignored. "Unhealthy" and
// "MicroSleep" sound the alarm, every other value (or no field) silences it.
//
// # Outbound (device to peer)
//
//	{"label":"drowsy","confidence":0.9}\n
//
// One line per detection, carrying the label with the highest score. Ties go
// to the label listed first in the label file.
//
// # Framing
//
// A LineBuffer holds bytes between reads. A single read may deliver several
// lines, or part of one; complete lines are returned in arrival order and
// the remainder waits for the next read.
package protocol
