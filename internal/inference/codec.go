package inference

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageBytes bounds a single worker message.
const MaxMessageBytes = 16 << 20

// Message types exchanged with the worker.
const (
	typeClassify = "classify"
	typeReady    = "ready"
	typeResult   = "result"
	typeError    = "error"
)

// request is sent to the worker for every frame. Raw image bytes travel as
// a msgpack bin, no base64.
type request struct {
	Type      string      `msgpack:"type"`
	FrameData []byte      `msgpack:"frame_data"`
	Width     int         `msgpack:"width"`
	Height    int         `msgpack:"height"`
	Meta      requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	FrameID   string `msgpack:"frame_id"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp string `msgpack:"timestamp"`
}

// response is any message the worker sends: the ready handshake, a
// classification result or an error.
type response struct {
	Type       string             `msgpack:"type"`
	Outputs    int                `msgpack:"outputs,omitempty"`
	Detections []wireDetection    `msgpack:"detections,omitempty"`
	Timing     map[string]float64 `msgpack:"timing,omitempty"`
	Error      string             `msgpack:"error,omitempty"`
}

type wireDetection struct {
	Rect   []int     `msgpack:"rect"`
	Scores []float64 `msgpack:"scores"`
}

// writeMessage writes one length-prefixed msgpack message: 4 bytes
// big-endian length, then the payload.
func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxMessageBytes {
		return fmt.Errorf("worker message of %d bytes exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
