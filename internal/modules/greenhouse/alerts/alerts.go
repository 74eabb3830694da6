// Package alerts holds the single definition of when a sample deserves a warning.
package alerts

import "greenhouse-server/internal/modules/greenhouse/types"

// Thresholds are the limits an operator configured for a device.
type Thresholds struct {
	MaxTemperature float64
	MinSoil        int
}

func ThresholdsFrom(cfg types.ControlConfig) Thresholds {
	return Thresholds{MaxTemperature: cfg.FanAutoTemp, MinSoil: cfg.SoilAutoStart}
}

// EvaluateAlerts returns the alerts s triggers, always in the same order.
// Temperature strictly above the fan threshold and soil moisture strictly
// below the irrigation start threshold raise an alert.
func EvaluateAlerts(s types.Sample, th Thresholds) []types.AlertKind {
	var out []types.AlertKind
	if s.Temperature > th.MaxTemperature {
		out = append(out, types.AlertHighTemperature)
	}
	if s.Soil < th.MinSoil {
		out = append(out, types.AlertDrySoil)
	}
	return out
}
