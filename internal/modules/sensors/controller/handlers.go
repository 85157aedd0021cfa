package controller

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"iotdrone-monitor/internal/modules/sensors/types"
	"iotdrone-monitor/internal/modules/sensors/views"
	"iotdrone-monitor/internal/utils"
)

type frameResponse struct {
	PresentedAt time.Time `json:"presented_at"`
	types.Frame
}

func (c *sensorControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := views.DashboardData{
		Source:         c.settings.Source,
		Capacity:       c.settings.Capacity,
		RefreshSeconds: refreshSeconds(c.settings.Refresh),
	}
	if frame, _, ok := c.frames.Get(); ok {
		data.Frame = &frame
	}

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, &data); err != nil {
		slog.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("dashboard: write response failed", "error", err)
	}
}

func (c *sensorControllerImpl) handleLivePartial(w http.ResponseWriter, r *http.Request) {
	frame, _, _ := c.frames.Get()

	var buf bytes.Buffer
	if err := views.RenderLivePartial(&buf, frame.Latest); err != nil {
		slog.Error("live partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("live partial: write response failed", "error", err)
	}
}

func (c *sensorControllerImpl) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, at, ok := c.frames.Get()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.WriteJSON(w, http.StatusOK, frameResponse{PresentedAt: at.UTC(), Frame: frame})
}

func (c *sensorControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, c.settings.Capacity)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.query.LastN(r.Context(), limit)
	if err != nil {
		slog.Error("readings: query failed", "limit", limit, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

func (c *sensorControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, ok, err := c.query.Latest(r.Context())
	if err != nil {
		slog.Error("latest: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "no readings yet")
		return
	}
	utils.WriteJSON(w, http.StatusOK, latest)
}
