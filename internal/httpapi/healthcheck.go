package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"greenhouse-server/internal/utils"
)

// ConnectionStatus reports whether the MQTT client currently holds a broker connection.
type ConnectionStatus interface {
	IsConnected() bool
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db   *sql.DB
	mqtt ConnectionStatus
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	MQTT     string `json:"mqtt"`
}

func NewHealthchecker(db *sql.DB, mqtt ConnectionStatus) healthchecker {
	return &healthcheckerImpl{db: db, mqtt: mqtt}
}

// handleHealthz fails only on the database. A missing broker is reported but
// the server keeps serving history and control reads.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var ok int
	if err := h.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	resp := healthResponse{Status: "ok", Database: "ok", MQTT: "disconnected"}
	if h.mqtt != nil && h.mqtt.IsConnected() {
		resp.MQTT = "connected"
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, mqtt ConnectionStatus) {
	healthchecker := NewHealthchecker(db, mqtt)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
