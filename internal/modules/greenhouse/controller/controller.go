package controller

import (
	"context"
	"net/http"
	"time"

	"greenhouse-server/internal/modules/greenhouse/history"
	"greenhouse-server/internal/modules/greenhouse/types"
)

type HistoryService interface {
	Query(ctx context.Context, id types.DeviceID, w history.Window) ([]types.StoredRecord, error)
}

type ControlService interface {
	SetConfig(ctx context.Context, id types.DeviceID, cfg types.ControlConfig) error
	GetConfig(ctx context.Context, id types.DeviceID) (types.ControlConfig, error)
	Thresholds(ctx context.Context, id types.DeviceID) (types.ControlConfig, error)
}

type StateSource interface {
	Get(id types.DeviceID) (types.RealtimeState, bool)
}

type GreenhouseController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type greenhouseControllerImpl struct {
	history HistoryService
	control ControlService
	states  StateSource
	ws      http.Handler
	loc     *time.Location
	now     func() time.Time
}

// NewGreenhouseController builds the HTTP surface of the greenhouse module.
// loc resolves calendar-day history windows; ws may be nil to leave /ws out.
func NewGreenhouseController(h HistoryService, c ControlService, states StateSource, ws http.Handler, loc *time.Location) GreenhouseController {
	if loc == nil {
		loc = time.Local
	}
	return &greenhouseControllerImpl{
		history: h,
		control: c,
		states:  states,
		ws:      ws,
		loc:     loc,
		now:     time.Now,
	}
}

func (c *greenhouseControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	if c.ws != nil {
		mux.Handle("GET /ws", c.ws)
	}
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("GET "+prefix+"/history/{deviceId}", c.handleHistory)
		mux.HandleFunc("GET "+prefix+"/control/{deviceId}", c.handleGetControl)
		mux.HandleFunc("POST "+prefix+"/control/{deviceId}", c.handleSetControl)
		mux.HandleFunc("GET "+prefix+"/realtime/{deviceId}", c.handleRealtime)
	}
}
