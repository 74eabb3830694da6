package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewMux(db *sql.DB, mqtt ConnectionStatus) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, mqtt)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
