package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"greenhouse-server/internal/modules/greenhouse/alerts"
	"greenhouse-server/internal/modules/greenhouse/control"
	"greenhouse-server/internal/modules/greenhouse/history"
	"greenhouse-server/internal/modules/greenhouse/repository"
	"greenhouse-server/internal/modules/greenhouse/types"
	"greenhouse-server/internal/utils"
)

func (c *greenhouseControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDFromPath(w, r)
	if !ok {
		return
	}

	rangeKey, date := parseHistoryQuery(r)
	window, err := history.ResolveWindow(rangeKey, date, c.now(), c.loc)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := c.history.Query(r.Context(), id, window)
	if err != nil {
		slog.Error("history: query failed", "device_id", id, "window", window.Label, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	utils.WriteJSON(w, http.StatusOK, toHistoryPoints(records))
}

func (c *greenhouseControllerImpl) handleGetControl(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDFromPath(w, r)
	if !ok {
		return
	}

	cfg, err := c.control.GetConfig(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			utils.WriteError(w, http.StatusNotFound, "no control config stored for device")
			return
		}
		slog.Error("control: get config failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load control config")
		return
	}
	utils.WriteJSON(w, http.StatusOK, cfg)
}

func (c *greenhouseControllerImpl) handleSetControl(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDFromPath(w, r)
	if !ok {
		return
	}

	var cfg types.ControlConfig
	if err := utils.DecodeJSON(r, &cfg); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := c.control.SetConfig(r.Context(), id, cfg)
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, setControlResponse{Success: true, Published: true})
	case errors.Is(err, control.ErrInvalidConfig):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, control.ErrPublishFailed):
		// Stored; the device picks it up on the next successful relay.
		utils.WriteJSON(w, http.StatusAccepted, setControlResponse{Success: true, Published: false})
	default:
		slog.Error("control: set config failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to save control config")
	}
}

func (c *greenhouseControllerImpl) handleRealtime(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDFromPath(w, r)
	if !ok {
		return
	}

	st, ok := c.states.Get(id)
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "no realtime data for device")
		return
	}

	kinds := []types.AlertKind{}
	cfg, err := c.control.Thresholds(r.Context(), id)
	if err != nil {
		slog.Warn("realtime: thresholds unavailable", "device_id", id, "error", err)
	} else if found := alerts.EvaluateAlerts(st.Sample, alerts.ThresholdsFrom(cfg)); found != nil {
		kinds = found
	}

	utils.WriteJSON(w, http.StatusOK, realtimeResponse{
		DeviceID:      id,
		RealtimeFrame: st.Frame(),
		Alerts:        kinds,
	})
}
