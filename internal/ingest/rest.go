package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"vlwatch/internal/config"
	"vlwatch/internal/model"
	"vlwatch/internal/normalize"
)

const maxCaptureBytes = 8 << 20

type RESTServer struct {
	cfg    *config.Manager
	parser *Parser
	out    chan<- model.Capture
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, parser *Parser, out chan<- model.Capture, logger *slog.Logger) *RESTServer {
	if parser == nil {
		parser = NewParser()
	}
	return &RESTServer{cfg: cfg, parser: parser, out: out, logger: logger}
}

// Handler serves POST /capture, POST /page-load and GET /health.
func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/capture", s.handleCapture)
	mux.HandleFunc("/page-load", s.handlePageLoad)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Capture, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(cfg, parser, out, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaptureBytes))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	captures, failed, err := s.parser.ParseCaptures(body, "rest")
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest capture rejected", "err", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	accepted := 0
	for _, c := range captures {
		if SendNonBlocking(r.Context(), s.out, c, s.logger) {
			accepted++
		} else {
			failed++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted, "failed": failed})
}

type pageLoadRequest struct {
	URL string `json:"url"`
	At  string `json:"at"`
}

func (s *RESTServer) handlePageLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pageLoadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c, err := normalize.Normalize(normalize.CaptureFields{
		Event:     string(model.EventPageLoad),
		URL:       req.URL,
		Timestamp: req.At,
		Source:    "rest",
	}, time.Now())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	kind, watched := model.KindForPage(c.URL)
	if watched {
		SendNonBlocking(r.Context(), s.out, c, s.logger)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"watched": watched, "kind": kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
