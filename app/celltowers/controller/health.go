package controller

import (
	"context"
	"net/http"
	"sort"
	"time"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady runs every check and answers 503 when any of them fails.
func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(c.Checks))
	for name := range c.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	report := make(map[string]string, len(names))
	for _, name := range names {
		if err := c.Checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	c.writeJSON(w, status, report)
}
