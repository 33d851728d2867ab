package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Drowsiness statuses that sound the alarm. Anything else, including a
// missing field, silences it.
const (
	StatusUnhealthy  = "Unhealthy"
	StatusMicroSleep = "MicroSleep"
	StatusNormal     = "Normal"
)

// AlertStatuses is the fixed alert set.
var AlertStatuses = []string{StatusUnhealthy, StatusMicroSleep}

// ErrNotObject is returned when an inbound line is valid JSON but not an object.
var ErrNotObject = errors.New("inbound message is not a JSON object")

// InboundMessage is one decoded line from the peer. Fields other than
// drowsinessStatus are ignored.
type InboundMessage struct {
	DrowsinessStatus *string `json:"drowsinessStatus,omitempty"`
}

// Status returns the drowsiness status and whether the field was present
// as a string.
func (m InboundMessage) Status() (string, bool) {
	if m.DrowsinessStatus == nil {
		return "", false
	}
	return *m.DrowsinessStatus, true
}

// Prediction is the best-scoring label of one detection.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DecodeInbound decodes one line (without its newline). A trailing carriage
// return is tolerated. A drowsinessStatus that is not a string is treated as
// absent rather than as a decode failure.
func DecodeInbound(line []byte) (InboundMessage, error) {
	line = bytes.TrimRight(line, "\r")

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return InboundMessage{}, ErrNotObject
		}
		return InboundMessage{}, fmt.Errorf("failed to decode inbound message: %w", err)
	}
	if raw == nil {
		return InboundMessage{}, ErrNotObject
	}

	var msg InboundMessage
	if field, ok := raw["drowsinessStatus"]; ok {
		var status string
		if err := json.Unmarshal(field, &status); err == nil {
			msg.DrowsinessStatus = &status
		}
	}
	return msg, nil
}

// IsAlertStatus reports whether the message asks for the alarm.
func IsAlertStatus(msg InboundMessage) bool {
	status, ok := msg.Status()
	if !ok {
		return false
	}
	for _, s := range AlertStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// BestPrediction pairs labels with scores (truncating to the shorter list)
// and returns the pair with the highest score. Ties keep the label listed
// first. ok is false when there is nothing to pair.
func BestPrediction(labels []string, scores []float32) (Prediction, bool) {
	n := len(labels)
	if len(scores) < n {
		n = len(scores)
	}
	if n == 0 {
		return Prediction{}, false
	}

	best := 0
	for i := 1; i < n; i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return Prediction{Label: labels[best], Confidence: roundScore(scores[best])}, true
}

// roundScore widens a float32 score without exposing binary noise, so 0.9
// goes on the wire as 0.9 and not 0.8999999761581421.
func roundScore(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}

// EncodePrediction renders a prediction as one newline-terminated JSON line.
func EncodePrediction(p Prediction) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodePrediction parses one outbound line. The watch client uses it.
func DecodePrediction(line []byte) (Prediction, error) {
	var p Prediction
	if err := json.Unmarshal(bytes.TrimRight(line, "\r"), &p); err != nil {
		return Prediction{}, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return p, nil
}

// EncodeStatus renders an inbound status message as one JSON line.
func EncodeStatus(status string) []byte {
	data, _ := json.Marshal(InboundMessage{DrowsinessStatus: &status})
	return append(data, '\n')
}
