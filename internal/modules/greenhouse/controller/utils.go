package controller

import (
	"net/http"
	"strings"

	"greenhouse-server/internal/modules/greenhouse/types"
	"greenhouse-server/internal/utils"
)

type setControlResponse struct {
	Success   bool `json:"success"`
	Published bool `json:"published"`
}

type realtimeResponse struct {
	DeviceID types.DeviceID `json:"deviceId"`
	types.RealtimeFrame
	Alerts []types.AlertKind `json:"alerts"`
}

func deviceIDFromPath(w http.ResponseWriter, r *http.Request) (types.DeviceID, bool) {
	id := strings.TrimSpace(r.PathValue("deviceId"))
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing device id")
		return "", false
	}
	return types.DeviceID(id), true
}

// parseHistoryQuery returns the raw range and date parameters; validation is
// left to history.ResolveWindow.
func parseHistoryQuery(r *http.Request) (rangeKey, date string) {
	q := r.URL.Query()
	return strings.TrimSpace(q.Get("range")), strings.TrimSpace(q.Get("date"))
}

func toHistoryPoints(records []types.StoredRecord) []types.HistoryPoint {
	out := make([]types.HistoryPoint, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Point())
	}
	return out
}
