package httpapi

import (
	"database/sql"
	"net/http"

	"iotdrone-monitor/internal/metrics"
)

// Router is a ServeMux whose routes are counted and timed by pattern.
type Router struct {
	mux     *http.ServeMux
	metrics *metrics.Metrics
}

func (r *Router) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	r.mux.Handle(pattern, r.metrics.WrapHandler(pattern, http.HandlerFunc(handler)))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// NewMux registers the health and metrics endpoints; features add their own
// routes through HandleFunc. m may be nil.
func NewMux(db *sql.DB, m *metrics.Metrics) *Router {
	r := &Router{mux: http.NewServeMux(), metrics: m}
	registerHealthcheck(r, db)
	r.mux.Handle("GET /metrics", m.Handler())
	return r
}
