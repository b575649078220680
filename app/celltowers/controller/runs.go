package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

// parsePeriod reads the {period} path variable, a UTC month such as 2024-01.
func parsePeriod(r *http.Request) (string, bool) {
	period := mux.Vars(r)["period"]
	if _, err := time.Parse("2006-01", period); err != nil {
		return "", false
	}
	return period, true
}

// HandleGetRun returns the checkpoint of a period.
func (c *Controller) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r)
	if !ok {
		c.writeError(w, http.StatusBadRequest, "period must look like 2006-01")
		return
	}

	run, err := c.Store.GetRun(r.Context(), period)
	if err != nil {
		c.Logger.Error("Failed to read run", zap.String("period", period), zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "failed to read run")
		return
	}
	if run == nil {
		c.writeError(w, http.StatusNotFound, "no run for period "+period)
		return
	}
	c.writeJSON(w, http.StatusOK, run)
}

// HandleTriggerRun starts a run of the period. ?force=true republishes a published period.
func (c *Controller) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(r)
	if !ok {
		c.writeError(w, http.StatusBadRequest, "period must look like 2006-01")
		return
	}
	if c.Trigger == nil {
		c.writeError(w, http.StatusNotImplemented, "manual runs are disabled")
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	in := types.RunInput{Period: period, Force: force}

	id, err := c.Trigger.Trigger(r.Context(), in)
	if errors.Is(err, redis.ErrLocked) {
		c.writeError(w, http.StatusConflict, "a run of "+period+" is already in progress")
		return
	}
	if err != nil {
		c.Logger.Error("Failed to trigger run", zap.String("period", period), zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "failed to trigger run")
		return
	}

	c.Logger.Info("Manual run triggered",
		zap.String("period", period),
		zap.Bool("force", force),
		zap.String("id", id),
		zap.String("by", c.currentUser(r)))
	c.writeJSON(w, http.StatusAccepted, map[string]interface{}{"period": period, "force": force, "id": id})
}

// HandleMartAreas lists the areas currently selected by the mart view.
func (c *Controller) HandleMartAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := c.Store.MartAreas(r.Context())
	if err != nil {
		c.Logger.Error("Failed to read mart", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "failed to read mart")
		return
	}
	if areas == nil {
		areas = []int32{}
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"areas": areas, "count": len(areas)})
}
