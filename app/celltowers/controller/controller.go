package controller

import (
	"context"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// Check is one readiness probe.
type Check func(ctx context.Context) error

// Trigger starts a run outside the schedule and returns an identifier of the started run.
type Trigger interface {
	Trigger(ctx context.Context, in types.RunInput) (string, error)
}

type Controller struct {
	Logger *zap.Logger
	Store  celltowersdb.Store
	// Checks are evaluated by /readyz, keyed by dependency name.
	Checks  map[string]Check
	Trigger Trigger
	Auth    Auth
}

// NewController returns a new controller.
func NewController(logger *zap.Logger, store celltowersdb.Store, trigger Trigger, auth Auth) *Controller {
	return &Controller{
		Logger:  logger,
		Store:   store,
		Checks:  map[string]Check{"clickhouse": store.Ping},
		Trigger: trigger,
		Auth:    auth,
	}
}

// NewRouter returns a new router with all the routes of the service.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/readyz", http.HandlerFunc(c.HandleReady)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/runs/{period}", http.HandlerFunc(c.HandleGetRun)).Methods(http.MethodGet)
	r.Handle("/runs/{period}", c.RequireAdmin(http.HandlerFunc(c.HandleTriggerRun))).Methods(http.MethodPost)
	r.Handle("/mart/areas", http.HandlerFunc(c.HandleMartAreas)).Methods(http.MethodGet)

	r.Handle("/api/auth/login", http.HandlerFunc(c.HandleLogin)).Methods(http.MethodPost)
	r.Handle("/api/auth/logout", http.HandlerFunc(c.HandleLogout)).Methods(http.MethodPost)

	return r
}

// writeJSON writes a JSON response
func (c *Controller) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (c *Controller) writeError(w http.ResponseWriter, statusCode int, message string) {
	c.writeJSON(w, statusCode, map[string]string{"error": message})
}
