package simulator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"greenhouse-server/internal/config"
	"greenhouse-server/internal/modules/greenhouse/types"
)

type Config struct {
	// Base carries the shared APP_ENV, LOG_LEVEL and MQTT_* settings.
	Base config.Config

	ClientID string
	Interval time.Duration
	Devices  []types.DeviceID
}

func LoadFromEnv() (Config, error) {
	base, err := config.LoadFromEnv()
	if err != nil {
		return Config{}, err
	}

	clientID := strings.TrimSpace(os.Getenv("SIM_CLIENT_ID"))
	if clientID == "" {
		clientID = "greenhouse-simulator"
	}

	intervalStr := strings.TrimSpace(os.Getenv("SIM_INTERVAL"))
	if intervalStr == "" {
		intervalStr = "3s"
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SIM_INTERVAL %q: %w", intervalStr, err)
	}
	if interval <= 0 {
		return Config{}, fmt.Errorf("SIM_INTERVAL must be positive, got %v", interval)
	}

	devicesStr := strings.TrimSpace(os.Getenv("SIM_DEVICES"))
	if devicesStr == "" {
		devicesStr = "ESP32_01"
	}
	devices, err := parseDevices(devicesStr)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Base:     base,
		ClientID: clientID,
		Interval: interval,
		Devices:  devices,
	}, nil
}

func parseDevices(s string) ([]types.DeviceID, error) {
	seen := make(map[types.DeviceID]bool)
	var out []types.DeviceID
	for _, part := range strings.Split(s, ",") {
		id := types.DeviceID(strings.TrimSpace(part))
		if id == "" {
			continue
		}
		if strings.ContainsAny(string(id), "/+#") {
			return nil, fmt.Errorf("invalid SIM_DEVICES entry %q: must not contain / + or #", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("SIM_DEVICES %q names no device", s)
	}
	return out, nil
}
