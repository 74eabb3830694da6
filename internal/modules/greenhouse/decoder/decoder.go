// Package decoder turns raw MQTT telemetry messages into typed samples.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"greenhouse-server/internal/modules/greenhouse/types"
)

const (
	topicPrefix = "greenhouse"
	dataSuffix  = "data"
)

var (
	ErrInvalidTopic     = errors.New("topic is not a device data topic")
	ErrMalformedPayload = errors.New("malformed telemetry payload")
	// ErrNotTelemetry marks a well-formed message that carries no temperature,
	// such as a control acknowledgement echoed on the data topic. Callers drop
	// it without treating it as a failure.
	ErrNotTelemetry = errors.New("payload is not a telemetry sample")
)

// IsDecodeFailure reports whether err means the message was bad, as opposed
// to merely not being telemetry.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, ErrInvalidTopic) || errors.Is(err, ErrMalformedPayload)
}

// DeviceIDFromTopic extracts the id from greenhouse/{id}/data.
func DeviceIDFromTopic(topic string) (types.DeviceID, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[2] != dataSuffix || parts[1] == "" {
		return "", false
	}
	return types.DeviceID(parts[1]), true
}

// DataTopic and ControlTopic build the per-device channel names.
func DataTopic(id types.DeviceID) string {
	return topicPrefix + "/" + string(id) + "/" + dataSuffix
}

func ControlTopic(id types.DeviceID) string {
	return topicPrefix + "/" + string(id) + "/control"
}

type wirePayload struct {
	Temperature *float64        `json:"temperature"`
	Soil        *float64        `json:"soil"`
	Pump        json.RawMessage `json:"pump"`
	Fan         json.RawMessage `json:"fan"`
	Light       json.RawMessage `json:"light"`
}

// Decode validates one message. receivedAt becomes the sample timestamp since
// devices do not send their own clock.
func Decode(topic string, payload []byte, receivedAt time.Time) (types.Sample, error) {
	id, ok := DeviceIDFromTopic(topic)
	if !ok {
		return types.Sample{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return types.Sample{}, fmt.Errorf("%w: expected JSON object", ErrMalformedPayload)
	}

	var w wirePayload
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return types.Sample{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Temperature == nil {
		return types.Sample{}, ErrNotTelemetry
	}
	if math.IsNaN(*w.Temperature) || math.IsInf(*w.Temperature, 0) {
		return types.Sample{}, fmt.Errorf("%w: temperature is not finite", ErrMalformedPayload)
	}

	s := types.Sample{
		DeviceID:    id,
		Timestamp:   receivedAt,
		Temperature: *w.Temperature,
	}
	if w.Soil != nil {
		s.Soil = clampPercent(*w.Soil)
	}

	var err error
	if s.Pump, err = parseSwitch("pump", w.Pump); err != nil {
		return types.Sample{}, err
	}
	if s.Fan, err = parseSwitch("fan", w.Fan); err != nil {
		return types.Sample{}, err
	}
	if s.Light, err = parseSwitch("light", w.Light); err != nil {
		return types.Sample{}, err
	}
	return s, nil
}

func clampPercent(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v)
	}
}

// parseSwitch accepts the encodings firmware uses for on/off: JSON booleans,
// numbers (non-zero is on) and strings such as "1", "true" or "on".
func parseSwitch(field string, raw json.RawMessage) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		switch strings.ToLower(strings.TrimSpace(str)) {
		case "on":
			return true, nil
		case "off", "":
			return false, nil
		}
		if v, err := strconv.ParseBool(strings.TrimSpace(str)); err == nil {
			return v, nil
		}
	}
	return false, fmt.Errorf("%w: %s is not a switch value: %s", ErrMalformedPayload, field, string(raw))
}
