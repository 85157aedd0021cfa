package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"iotdrone-monitor/internal/modules/sensors/types"
)

// Querier is the read side the HTTP handlers need.
type Querier interface {
	LastN(ctx context.Context, n int) ([]types.Reading, error)
	Latest(ctx context.Context) (types.Reading, bool, error)
}

// Router is satisfied by *http.ServeMux and by the instrumented router.
type Router interface {
	HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request))
}

type Settings struct {
	Source   string
	Capacity int
	Refresh  time.Duration
}

type SensorController interface {
	RegisterRoutes(mux Router)
	// Present stores the frame served by the dashboard; it is the
	// pipeline's presentation hook.
	Present(ctx context.Context, f types.Frame) error
}

type sensorControllerImpl struct {
	query    Querier
	settings Settings
	frames   *FrameHolder
}

func NewSensorController(query Querier, settings Settings) SensorController {
	return &sensorControllerImpl{
		query:    query,
		settings: settings,
		frames:   &FrameHolder{},
	}
}

func (c *sensorControllerImpl) RegisterRoutes(mux Router) {
	mux.HandleFunc("GET /", c.handleDashboard)
	mux.HandleFunc("GET /partials/live", c.handleLivePartial)
	mux.HandleFunc("GET /api/v1/frame", c.handleFrame)
	mux.HandleFunc("GET /api/v1/readings", c.handleReadings)
	mux.HandleFunc("GET /api/v1/readings/latest", c.handleLatest)
}

func (c *sensorControllerImpl) Present(_ context.Context, f types.Frame) error {
	c.frames.Set(f, time.Now())
	return nil
}

// FrameHolder keeps the last presented frame for concurrent readers.
type FrameHolder struct {
	mu    sync.RWMutex
	frame types.Frame
	at    time.Time
	ok    bool
}

func (h *FrameHolder) Set(f types.Frame, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = f
	h.at = at
	h.ok = true
}

// Get returns the last frame, when it was presented, and false before the
// first one.
func (h *FrameHolder) Get() (types.Frame, time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frame, h.at, h.ok
}
