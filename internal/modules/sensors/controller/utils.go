package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

const maxReadingsLimit = 1000

// parseLimit reads ?limit=, defaulting to def (the window capacity).
func parseLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxReadingsLimit {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}

// refreshSeconds rounds the ingestion interval up to whole seconds for the
// page's refresh meta tag.
func refreshSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int((d + time.Second - 1) / time.Second)
	return max(s, 1)
}
