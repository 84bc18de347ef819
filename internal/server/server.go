// Package server is the HTTP + WebSocket surface: target CRUD, manual
// captures, version history, changes, alerts, live event streaming and the
// swagger UI. Handlers are thin; everything stateful lives in the store, the
// scheduler and the bus.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/spyglass/internal/demosite"
	"github.com/raysh454/spyglass/internal/detector"
	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/renderer"
	"github.com/raysh454/spyglass/internal/scheduler"
	"github.com/raysh454/spyglass/internal/store"
	"github.com/raysh454/spyglass/internal/utils"
)

// defaultCheckInterval is used when a create request omits the interval
// (seconds).
const defaultCheckInterval int64 = 3600

// Server serves the REST API and the event websocket.
type Server struct {
	cfg      Config
	store    *store.Store
	sched    *scheduler.Scheduler
	bus      *eventbus.Bus
	router   chi.Router
	hub      *wsHub
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer wires the API surface. Store, scheduler and bus are required; the
// hub registers its bus subscription immediately, so call NewServer before
// closing the bus.
func NewServer(cfg Config, st *store.Store, sched *scheduler.Scheduler,
	bus *eventbus.Bus, logger logging.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	cfg.defaults()

	s := &Server{
		cfg:    cfg,
		store:  st,
		sched:  sched,
		bus:    bus,
		router: chi.NewRouter(),
		hub:    newWSHub(bus.Subscribe("websocket"), logger),
		logger: logging.OrNop(logger).With(logging.F("component", "server")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)
	r.Use(s.requestLogMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/targets", func(r chi.Router) {
			r.Post("/", s.handleCreateTarget)
			r.Get("/", s.handleListTargets)
			r.Get("/{id}", s.handleGetTarget)
			r.Put("/{id}", s.handleUpdateTarget)
			r.Delete("/{id}", s.handleDeleteTarget)
			r.Post("/{id}/capture", s.handleCapture)
			r.Post("/{id}/start-monitoring", s.handleStartMonitoring)
			r.Post("/{id}/disable-monitoring", s.handleDisableMonitoring)
			r.Get("/{id}/monitoring-status", s.handleMonitoringStatus)
			r.Get("/{id}/versions", s.handleListVersions)
		})

		r.Get("/changes", s.handleListChanges)
		r.Get("/alerts", s.handleListAlerts)
		r.Put("/alerts/{id}", s.handleUpdateAlert)
	})

	r.Get("/ws/events", s.handleEventsWS)
	r.Get("/swagger/*", swaggerHandler())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the websocket endpoint streams
	}
}

// Close disconnects websocket clients. The bus subscription channel closes
// when the bus closes, which ends the hub's pump.
func (s *Server) Close() {
	s.hub.close()
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http_request",
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("duration_ms", time.Since(start).Milliseconds()))
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Code: code, Message: msg})
}

// writeDomainError maps domain sentinels to HTTP statuses; anything
// unrecognized is an internal error.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "target_not_found", err.Error())
	case errors.Is(err, store.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, "snapshot_not_found", err.Error())
	case errors.Is(err, store.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "alert_not_found", err.Error())
	case errors.Is(err, store.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, "already_initialized", err.Error())
	case errors.Is(err, detector.ErrTargetLocked):
		writeError(w, http.StatusConflict, "target_locked", err.Error())
	case errors.Is(err, renderer.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "render_failed", err.Error())
	default:
		s.logger.Error("request failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}

// --- Targets ---

// handleCreateTarget registers a page for monitoring.
//
//	@Summary	Create a monitoring target
//	@Tags		targets
//	@Accept		json
//	@Produce	json
//	@Param		target	body		createTargetRequest	true	"target"
//	@Success	201		{object}	model.Target
//	@Failure	422		{object}	errorResponse
//	@Router		/api/targets [post]
func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var body createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON")
		return
	}

	normalized, err := utils.NormalizeTargetURL(body.URL)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", "invalid url: "+err.Error())
		return
	}
	name := body.Name
	if name == "" {
		name = utils.HostOf(normalized)
	}
	priority := model.Priority(body.Priority)
	if body.Priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "validation", "unknown priority")
		return
	}
	interval := body.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	target, err := s.store.CreateTarget(r.Context(), store.NewTarget{
		URL:               normalized,
		Name:              name,
		CheckInterval:     s.cfg.clampInterval(interval),
		Priority:          priority,
		MonitoringEnabled: body.Monitoring,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("target created",
		logging.F("target_id", target.ID), logging.F("url", target.URL))
	writeJSON(w, http.StatusCreated, target)
}

// handleListTargets lists all live targets.
//
//	@Summary	List targets
//	@Tags		targets
//	@Produce	json
//	@Success	200	{array}	model.Target
//	@Router		/api/targets [get]
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if targets == nil {
		targets = []model.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// handleGetTarget returns one target.
//
//	@Summary	Get a target
//	@Tags		targets
//	@Produce	json
//	@Param		id	path		string	true	"target id"
//	@Success	200	{object}	model.Target
//	@Failure	404	{object}	errorResponse
//	@Router		/api/targets/{id} [get]
func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// handleUpdateTarget mutates name, url, interval or priority.
//
//	@Summary	Update a target
//	@Tags		targets
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"target id"
//	@Param		target	body		updateTargetRequest	true	"fields to change"
//	@Success	200		{object}	model.Target
//	@Failure	404		{object}	errorResponse
//	@Failure	422		{object}	errorResponse
//	@Router		/api/targets/{id} [put]
func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	var body updateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON")
		return
	}

	target, err := s.store.GetTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if body.URL != nil {
		normalized, err := utils.NormalizeTargetURL(*body.URL)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation", "invalid url: "+err.Error())
			return
		}
		target.URL = normalized
	}
	if body.Name != nil {
		target.Name = *body.Name
	}
	if body.Interval != nil {
		target.CheckInterval = s.cfg.clampInterval(*body.Interval)
	}
	if body.Priority != nil {
		priority := model.Priority(*body.Priority)
		if !priority.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "validation", "unknown priority")
			return
		}
		target.Priority = priority
	}

	if err := s.store.UpdateTarget(r.Context(), target); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// handleDeleteTarget soft-deletes a target: it vanishes from every read path,
// its alerts are removed and it is never scheduled again. Version history
// stays on disk.
//
//	@Summary	Delete a target
//	@Tags		targets
//	@Param		id	path	string	true	"target id"
//	@Success	204
//	@Failure	404	{object}	errorResponse
//	@Router		/api/targets/{id} [delete]
func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.SoftDeleteTarget(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("target deleted", logging.F("target_id", id))
	writeJSON(w, http.StatusNoContent, nil)
}

// --- Capture ---

// handleCapture triggers a capture right now, bypassing the schedule but not
// the per-target lock. Inline html skips the renderer; simulate mutates the
// current version instead of fetching anything.
//
//	@Summary	Capture a target now
//	@Tags		capture
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"target id"
//	@Param		options	body		captureRequest	false	"capture options"
//	@Success	200		{object}	detector.CaptureResult
//	@Failure	404		{object}	errorResponse
//	@Failure	409		{object}	errorResponse
//	@Failure	502		{object}	errorResponse
//	@Router		/api/targets/{id}/capture [post]
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body captureRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON")
			return
		}
	}

	html := body.Options.HTML
	if html == "" && body.Options.Simulate {
		current, err := s.store.GetCurrent(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNoCurrentSnapshot) {
				writeError(w, http.StatusUnprocessableEntity, "validation",
					"target has no versions to simulate against")
				return
			}
			s.writeDomainError(w, err)
			return
		}
		stored, err := s.store.Reconstruct(r.Context(), current.ID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		html = demosite.Mutate(stored)
	}

	result, err := s.sched.TriggerManual(r.Context(), id, html)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Monitoring ---

// handleStartMonitoring enables scheduled captures, optionally changing the
// interval.
//
//	@Summary	Start monitoring
//	@Tags		monitoring
//	@Accept		json
//	@Param		id			path	string				true	"target id"
//	@Param		interval	body	monitoringRequest	false	"interval override"
//	@Success	204
//	@Failure	404	{object}	errorResponse
//	@Router		/api/targets/{id}/start-monitoring [post]
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var body monitoringRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON")
			return
		}
	}

	interval := body.Interval
	if interval > 0 {
		interval = s.cfg.clampInterval(interval)
	}
	if err := s.store.SetMonitoring(r.Context(), chi.URLParam(r, "id"), true, interval); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleDisableMonitoring pauses scheduled captures; history and manual
// captures are unaffected.
//
//	@Summary	Disable monitoring
//	@Tags		monitoring
//	@Param		id	path	string	true	"target id"
//	@Success	204
//	@Failure	404	{object}	errorResponse
//	@Router		/api/targets/{id}/disable-monitoring [post]
func (s *Server) handleDisableMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetMonitoring(r.Context(), chi.URLParam(r, "id"), false, 0); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleMonitoringStatus reports the scheduling state of a target.
//
//	@Summary	Monitoring status
//	@Tags		monitoring
//	@Produce	json
//	@Param		id	path		string	true	"target id"
//	@Success	200	{object}	monitoringStatusResponse
//	@Failure	404	{object}	errorResponse
//	@Router		/api/targets/{id}/monitoring-status [get]
func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := monitoringStatusResponse{
		MonitoringEnabled: target.MonitoringEnabled,
		LastCheckedAt:     target.LastCheckedAt,
	}
	switch {
	case target.MonitoringEnabled:
		resp.Status = "active"
		resp.NextCapture = target.NextCaptureAt()
	case target.LastCheckedAt > 0:
		resp.Status = "paused"
	default:
		resp.Status = "never"
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- History ---

// handleListVersions pages through a target's snapshot chain, newest first.
//
//	@Summary	List versions
//	@Tags		history
//	@Produce	json
//	@Param		id		path	string	true	"target id"
//	@Param		limit	query	int		false	"page size"
//	@Param		offset	query	int		false	"page offset"
//	@Success	200	{array}		model.Snapshot
//	@Failure	404	{object}	errorResponse
//	@Router		/api/targets/{id}/versions [get]
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Existence check so a bogus id is a 404, not an empty list.
	if _, err := s.store.GetTarget(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	snaps, err := s.store.ListSnapshots(r.Context(), id,
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleListChanges returns recent snapshots that carried changes, newest
// first, each joined with the diff that produced it.
//
//	@Summary	List changes
//	@Tags		history
//	@Produce	json
//	@Param		targetId	query	string	false	"filter by target"
//	@Param		limit		query	int		false	"page size"
//	@Param		offset		query	int		false	"page offset"
//	@Success	200	{array}	changeEntry
//	@Router		/api/changes [get]
func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListChanges(r.Context(), r.URL.Query().Get("targetId"),
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	entries := make([]changeEntry, 0, len(snaps))
	for _, snap := range snaps {
		entry := changeEntry{Snapshot: snap}
		if diff, err := s.store.GetDiffInto(r.Context(), snap.ID); err == nil {
			entry.Diff = diff
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Alerts ---

// handleListAlerts pages through alerts, optionally filtered by target and
// status.
//
//	@Summary	List alerts
//	@Tags		alerts
//	@Produce	json
//	@Param		targetId	query	string	false	"filter by target"
//	@Param		status		query	string	false	"unread|read|archived"
//	@Param		limit		query	int		false	"page size"
//	@Param		offset		query	int		false	"page offset"
//	@Success	200	{array}		model.Alert
//	@Failure	422	{object}	errorResponse
//	@Router		/api/alerts [get]
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	status := model.AlertStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "validation", "unknown alert status")
		return
	}

	alerts, err := s.store.ListAlerts(r.Context(), r.URL.Query().Get("targetId"),
		status, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleUpdateAlert moves an alert between unread, read and archived.
//
//	@Summary	Update alert status
//	@Tags		alerts
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"alert id"
//	@Param		status	body		alertStatusRequest	true	"new status"
//	@Success	200		{object}	model.Alert
//	@Failure	404		{object}	errorResponse
//	@Failure	422		{object}	errorResponse
//	@Router		/api/alerts/{id} [put]
func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	var body alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON")
		return
	}
	status := model.AlertStatus(body.Status)
	if !status.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "validation", "unknown alert status")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateAlertStatus(r.Context(), id, status); err != nil {
		s.writeDomainError(w, err)
		return
	}
	alert, err := s.store.GetAlert(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// --- Ops ---

// handleHealth is the liveness probe.
//
//	@Summary	Health check
//	@Tags		ops
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/api/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats exposes scheduler, bus and websocket counters.
//
//	@Summary	Runtime statistics
//	@Tags		ops
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Router		/api/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler":         s.sched.Stats(),
		"subscribers":       s.bus.Stats(),
		"websocket_clients": s.hub.clientCount(),
	})
}

// --- WebSocket ---

// handleEventsWS upgrades the connection and streams every change event as
// JSON. A client that cannot keep up is disconnected rather than allowed to
// back up the bus.
//
//	@Summary	Live change event stream
//	@Tags		ops
//	@Router		/ws/events [get]
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	s.hub.add(conn)
}
