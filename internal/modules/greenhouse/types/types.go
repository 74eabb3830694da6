package types

import (
	"fmt"
	"regexp"
	"time"
)

// DeviceID identifies one telemetry source. It is the middle segment of the
// device's MQTT topics.
type DeviceID string

// Sample is one decoded telemetry reading.
type Sample struct {
	DeviceID    DeviceID  `json:"deviceId"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Soil        int       `json:"soil"`
	Pump        bool      `json:"pump"`
	Fan         bool      `json:"fan"`
	Light       bool      `json:"light"`
}

const realtimeTimeLayout = "15:04:05"

// RealtimeState is the last sample seen for a device together with the
// display time shown to viewers.
type RealtimeState struct {
	Sample Sample
	Time   string
}

func NewRealtimeState(s Sample) RealtimeState {
	return RealtimeState{Sample: s, Time: s.Timestamp.Format(realtimeTimeLayout)}
}

// RealtimeFrame is the JSON pushed to websocket viewers.
type RealtimeFrame struct {
	Temperature float64 `json:"temperature"`
	Soil        int     `json:"soil"`
	Pump        bool    `json:"pump"`
	Fan         bool    `json:"fan"`
	Light       bool    `json:"light"`
	Time        string  `json:"time"`
}

func (s RealtimeState) Frame() RealtimeFrame {
	return RealtimeFrame{
		Temperature: s.Sample.Temperature,
		Soil:        s.Sample.Soil,
		Pump:        s.Sample.Pump,
		Fan:         s.Sample.Fan,
		Light:       s.Sample.Light,
		Time:        s.Time,
	}
}

// StoredRecord is a persisted sample. CreatedAt is assigned by the server and
// drives both ordering and retention.
type StoredRecord struct {
	ID        int64
	Sample    Sample
	CreatedAt time.Time
}

// HistoryPoint is one element of the history response.
type HistoryPoint struct {
	Temperature float64   `json:"temperature"`
	Soil        int       `json:"soil"`
	Pump        bool      `json:"pump"`
	Fan         bool      `json:"fan"`
	Light       bool      `json:"light"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r StoredRecord) Point() HistoryPoint {
	return HistoryPoint{
		Temperature: r.Sample.Temperature,
		Soil:        r.Sample.Soil,
		Pump:        r.Sample.Pump,
		Fan:         r.Sample.Fan,
		Light:       r.Sample.Light,
		CreatedAt:   r.CreatedAt,
	}
}

const (
	ModeAuto   = "AUTO"
	ModeManual = "MANUAL"
)

// ControlConfig is the full per-device control configuration. It is always
// stored and relayed as a whole: fields missing from an update are reset to
// their zero value, never merged with the previous config.
type ControlConfig struct {
	PumpMode      string  `json:"pumpMode"`
	PumpState     bool    `json:"pumpState"`
	FanMode       string  `json:"fanMode"`
	FanState      bool    `json:"fanState"`
	LightMode     string  `json:"lightMode"`
	LightState    bool    `json:"lightState"`
	SoilAutoStart int     `json:"soilAutoStart"`
	SoilAutoStop  int     `json:"soilAutoStop"`
	FanAutoTemp   float64 `json:"fanAutoTemp"`
	LightOnTime   string  `json:"lightOnTime"`
	LightOffTime  string  `json:"lightOffTime"`
}

// DefaultControlConfig is what a freshly registered device runs with.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		PumpMode:      ModeAuto,
		FanMode:       ModeAuto,
		LightMode:     ModeAuto,
		SoilAutoStart: 40,
		SoilAutoStop:  60,
		FanAutoTemp:   30,
		LightOnTime:   "18:00",
		LightOffTime:  "06:00",
	}
}

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate rejects values the device firmware cannot act on. Empty fields
// pass: a partial update is stored as-is and resets what it omits.
func (c ControlConfig) Validate() error {
	modes := []struct {
		name, value string
	}{
		{"pumpMode", c.PumpMode},
		{"fanMode", c.FanMode},
		{"lightMode", c.LightMode},
	}
	for _, m := range modes {
		if m.value != "" && m.value != ModeAuto && m.value != ModeManual {
			return fmt.Errorf("%s must be %s or %s, got %q", m.name, ModeAuto, ModeManual, m.value)
		}
	}
	if c.SoilAutoStart < 0 || c.SoilAutoStart > 100 {
		return fmt.Errorf("soilAutoStart out of range: %d (must be 0-100)", c.SoilAutoStart)
	}
	if c.SoilAutoStop < 0 || c.SoilAutoStop > 100 {
		return fmt.Errorf("soilAutoStop out of range: %d (must be 0-100)", c.SoilAutoStop)
	}
	if c.LightOnTime != "" && !clockRe.MatchString(c.LightOnTime) {
		return fmt.Errorf("lightOnTime must be HH:MM, got %q", c.LightOnTime)
	}
	if c.LightOffTime != "" && !clockRe.MatchString(c.LightOffTime) {
		return fmt.Errorf("lightOffTime must be HH:MM, got %q", c.LightOffTime)
	}
	return nil
}

type AlertKind string

const (
	AlertHighTemperature AlertKind = "high_temperature"
	AlertDrySoil         AlertKind = "dry_soil"
)
