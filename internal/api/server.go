package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vlwatch/internal/alerts"
	"vlwatch/internal/config"
	"vlwatch/internal/engine"
	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
	"vlwatch/internal/seenset"
)

type EngineControl interface {
	Status(ctx context.Context) ([]engine.KindStatus, error)
	Reset(ctx context.Context, kind model.Kind) error
	UpdateConfig(cfg *config.Config)
}

type EntryLister interface {
	Entries(ctx context.Context) ([]seenset.Entry, error)
}

type NotificationTester interface {
	Test(ctx context.Context, settings config.NotificationConfig) (model.Notification, error)
}

type Server struct {
	cfg     *config.Manager
	engine  EngineControl
	entries EntryLister
	history *alerts.Store
	metrics *metrics.Store
	tester  NotificationTester
	logger  *slog.Logger
	version string
	started time.Time
}

type statusResponse struct {
	Status     string              `json:"status"`
	Time       string              `json:"time"`
	Started    string              `json:"started"`
	Version    string              `json:"version"`
	ConfigPath string              `json:"config_path"`
	Storage    string              `json:"storage"`
	Ingest     ingestStatus        `json:"ingest"`
	Kinds      []engine.KindStatus `json:"kinds"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	Kafka    bool `json:"kafka"`
	FileTail bool `json:"file_tail"`
	Browser  bool `json:"browser"`
}

type entryView struct {
	Kind        model.Kind `json:"kind"`
	Day         string     `json:"day"`
	Initialized bool       `json:"initialized"`
	Seen        int        `json:"seen"`
}

func NewServer(cfg *config.Manager, eng EngineControl, entries EntryLister, history *alerts.Store, metricsStore *metrics.Store, tester NotificationTester, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		entries: entries,
		history: history,
		metrics: metricsStore,
		tester:  tester,
		logger:  logger,
		version: version,
		started: time.Now().UTC(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/entries", s.handleEntries)
	r.Post("/reset/{kind}", s.handleReset)
	r.Get("/stats", s.handleStats)
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", s.handleNotifications)
		r.Post("/test", s.handleTestNotification)
	})
	r.Get("/settings", s.handleGetSettings)
	r.Post("/settings", s.handleUpdateSettings)
	r.Post("/admin/clear", s.handleClear)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	kinds, err := s.engine.Status(r.Context())
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Started:    s.started.Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Storage:    cfg.Storage.Driver,
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Browser:  cfg.Ingest.Browser.Enabled,
		},
		Kinds: kinds,
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.Entries(r.Context())
	if err != nil {
		s.fail(w, "list entries failed", err)
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{Kind: e.Kind, Day: e.Day, Initialized: e.Initialized, Seen: e.Size()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	kind, ok := model.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown kind"})
		return
	}
	if err := s.engine.Reset(r.Context(), kind); err != nil {
		s.fail(w, "reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "kind": kind})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stats": s.metrics.GetAll()})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Notification
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.history.Since(ts)
	} else if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind, ok := model.ParseKind(kindStr)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown kind " + strconv.Quote(kindStr)})
			return
		}
		list = s.history.ListKind(kind, limit)
	} else {
		list = s.history.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "count": len(list)})
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.tester.Test(r.Context(), s.cfg.Get().Notifications)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("test notification failed", "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"notification": n, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.cfg.Get().Notifications})
}

// handleUpdateSettings applies a partial notification settings object on
// top of the current one and persists it.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	current := s.cfg.Get()
	next := *current
	if err := json.Unmarshal(body, &next.Notifications); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := config.Validate(&next); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cfg.Update(&next); err != nil {
		s.fail(w, "settings update failed", err)
		return
	}
	if s.engine != nil {
		s.engine.UpdateConfig(&next)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "notifications": next.Notifications})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.history.Clear()
	case "notifications", "history":
		s.history.Clear()
	case "stats", "metrics":
		s.metrics.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
