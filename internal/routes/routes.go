package routes

import (
	"fmt"
	"net/http"

	"CapIot.telemetry/internal/controller"
	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/middleware"
	"CapIot.telemetry/internal/models"
	"CapIot.telemetry/internal/utils"
	"github.com/gorilla/mux"
)

// Options wires the optional parts of the router. Nil fields disable the
// corresponding feature.
type Options struct {
	Auth    func(http.Handler) http.Handler // guards the data routes
	Metrics http.Handler                    // served on /metrics
	Alerts  http.HandlerFunc                // websocket alert stream on /ws/alerts
}

// RegisterRoutes registers all application routes
func RegisterRoutes(c *controller.DataController, opts Options) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(logging.Component("http")))

	auth := opts.Auth
	if auth == nil {
		auth = middleware.Passthrough
	}

	r.Handle("/readings", auth(http.HandlerFunc(c.HandleIngest))).Methods(http.MethodPost)
	r.Handle("/devices/{deviceId}/latest", auth(http.HandlerFunc(c.HandleLatest))).Methods(http.MethodGet)
	r.Handle("/sites/{siteId}/summary", auth(http.HandlerFunc(c.HandleSummary))).Methods(http.MethodGet)
	if opts.Alerts != nil {
		r.Handle("/ws/alerts", auth(opts.Alerts)).Methods(http.MethodGet)
	}

	// Health check (GET only)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}).Methods(http.MethodGet)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeNotFound, "route not found", nil, http.StatusNotFound))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeMethodNotAllowed, "method not allowed", nil, http.StatusMethodNotAllowed))
	})
	return r
}
