package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/classguard/monitor/alert"
	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/device"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
	"github.com/classguard/monitor/storage"
)

// ControlPublisher sends control commands to the device.
type ControlPublisher interface {
	PublishControl(cmd model.ControlCommand, source model.ControlSource) error
}

// Server is the HTTP API of the monitor service.
type Server struct {
	cfg       *config.Config
	evaluator *alert.Evaluator
	tracker   *device.Tracker
	storage   *storage.Manager
	publisher ControlPublisher
	httpSrv   *http.Server
}

// NewServer wires the API around the running pipeline components.
func NewServer(cfg *config.Config, evaluator *alert.Evaluator, tracker *device.Tracker,
	storageManager *storage.Manager, publisher ControlPublisher) *Server {

	s := &Server{
		cfg:       cfg,
		evaluator: evaluator,
		tracker:   tracker,
		storage:   storageManager,
		publisher: publisher,
	}

	router := s.routes()

	corsOptions := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		corsOptions.AllowedOrigins = cfg.HTTP.AllowedOrigins
	}

	s.httpSrv = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      cors.New(corsOptions).Handler(router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// routes defines all API routes.
func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/api/login", s.handleLogin).Methods("POST")

	router.Handle("/api/sensors/latest", s.auth(http.HandlerFunc(s.handleLatest))).Methods("GET")
	router.Handle("/api/sensors/history", s.auth(http.HandlerFunc(s.handleHistory))).Methods("GET")
	router.Handle("/api/devices", s.auth(http.HandlerFunc(s.handleDevices))).Methods("GET")
	router.Handle("/api/actuators", s.auth(http.HandlerFunc(s.handleActuators))).Methods("GET")
	router.Handle("/api/alerts", s.auth(http.HandlerFunc(s.handleAlerts))).Methods("GET")
	router.Handle("/api/export/csv", s.auth(http.HandlerFunc(s.handleExportCSV))).Methods("GET")

	router.Handle("/api/control", s.admin(http.HandlerFunc(s.handleControl))).Methods("POST")
	router.Handle("/api/control/{actuator}", s.admin(http.HandlerFunc(s.handleRelease))).Methods("DELETE")
	router.Handle("/api/users", s.admin(http.HandlerFunc(s.handleUsers))).Methods("GET")

	return router
}

// Start serves the API until the server is shut down.
func (s *Server) Start() error {
	logger.Info("http api listening on %s", s.cfg.HTTP.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
