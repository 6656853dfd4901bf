package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/config"
	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/export"
	"github.com/JakeFAU/content-crawler/internal/metrics"
	"github.com/JakeFAU/content-crawler/internal/syncer"
)

const maxBodyBytes = 1 << 20

// Service is the crawl surface the handlers call.
type Service interface {
	Configured() []crawler.Source
	Crawl(ctx context.Context, src crawler.Source, mode crawler.Mode) (crawler.Result, bool, error)
	Latest(ctx context.Context, src crawler.Source) (crawler.Record, error)
	Sync(ctx context.Context, src crawler.Source, opts syncer.Options) (syncer.Report, error)
	SyncAll(ctx context.Context, sources []crawler.Source, opts syncer.Options) ([]syncer.Report, error)
	IsLatest(ctx context.Context, src crawler.Source) (bool, error)
	Records(ctx context.Context, src crawler.Source) ([]crawler.Record, error)
	Export(ctx context.Context, format export.Format, src crawler.Source) (export.Artifact, error)
}

// Server wires HTTP handlers to the sync service.
type Server struct {
	router  chi.Router
	service Service
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey, logger))
		}
		r.Use(timeoutMiddleware(timeout))

		r.Get("/records", s.listRecords)
		r.Post("/sync", s.syncAll)
		r.Post("/exports", s.createExport)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Route("/{source}", func(r chi.Router) {
				r.Post("/crawl", s.crawl)
				r.Post("/sync", s.sync)
				r.Get("/latest", s.latest)
				r.Get("/is-latest", s.isLatest)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once at least one source can be crawled.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	sources := s.service.Configured()
	if len(sources) == 0 {
		writeJSON(w, s.logger, http.StatusServiceUnavailable, map[string]any{"status": "no sources configured"})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"status": "ready", "sources": sources})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	configured := s.service.Configured()
	if configured == nil {
		configured = []crawler.Source{}
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"sources": configured})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	var src crawler.Source
	if name := r.URL.Query().Get("source"); name != "" {
		parsed, err := crawler.ParseSource(name)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		src = parsed
	}
	recs, err := s.service.Records(r.Context(), src)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

type crawlRequest struct {
	Mode string `json:"mode"`
}

type crawlResponse struct {
	crawler.Result
	FellBack bool `json:"fell_back"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	var req crawlRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode, err := crawler.ParseMode(req.Mode)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}
	res, fellBack, err := s.service.Crawl(r.Context(), src, mode)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, crawlResponse{Result: res, FellBack: fellBack})
}

type syncRequest struct {
	Mode    string   `json:"mode"`
	Export  string   `json:"export"`
	Sources []string `json:"sources"`
}

func (s *Server) syncOptions(w http.ResponseWriter, req syncRequest) (syncer.Options, bool) {
	mode, err := crawler.ParseMode(req.Mode)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return syncer.Options{}, false
	}
	opts := syncer.Options{Mode: mode}
	exportName := req.Export
	if exportName == "" {
		exportName = s.cfg.Export.OnSync
	}
	if exportName != "" {
		format, err := export.ParseFormat(exportName)
		if err != nil {
			writeError(w, s.logger, http.StatusBadRequest, err.Error())
			return syncer.Options{}, false
		}
		opts.Export = format
	}
	return opts, true
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, ok := s.syncOptions(w, req)
	if !ok {
		return
	}
	report, err := s.service.Sync(r.Context(), src, opts)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, report)
}

func (s *Server) syncAll(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, ok := s.syncOptions(w, req)
	if !ok {
		return
	}
	sources := make([]crawler.Source, 0, len(req.Sources))
	for _, name := range req.Sources {
		src, err := crawler.ParseSource(name)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		sources = append(sources, src)
	}
	reports, err := s.service.SyncAll(r.Context(), sources, opts)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	rec, err := s.service.Latest(r.Context(), src)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, rec)
}

func (s *Server) isLatest(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	latest, err := s.service.IsLatest(r.Context(), src)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"source": src, "is_latest": latest})
}

type exportRequest struct {
	Format string `json:"format"`
	Source string `json:"source"`
}

func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}
	var src crawler.Source
	if req.Source != "" {
		if src, err = crawler.ParseSource(req.Source); err != nil {
			s.writeFault(w, r, err)
			return
		}
	}
	artifact, err := s.service.Export(r.Context(), format, src)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, artifact)
}

func (s *Server) sourceParam(w http.ResponseWriter, r *http.Request) (crawler.Source, bool) {
	src, err := crawler.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		s.writeFault(w, r, err)
		return "", false
	}
	return src, true
}

// decode reads an optional JSON body holding exactly one value. An empty body
// leaves dst untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, s.logger, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		writeError(w, s.logger, http.StatusBadRequest, "invalid JSON: body must hold a single value")
		return false
	}
	return true
}

func (s *Server) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", RequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Info("request rejected", fields...)
	}
	body := map[string]string{"error": err.Error()}
	if label := faultLabel(err); label != "" {
		body["fault"] = label
	}
	writeJSON(w, s.logger, status, body)
}

// faultLabel names err's kind for clients; plain errors have no label.
func faultLabel(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline"
	}
	if crawler.FaultKind(err) == nil {
		return ""
	}
	return crawler.FaultLabel(err)
}

// statusFor maps a fault kind to an HTTP status. A deadline wins over the
// fault that carried it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, crawler.ErrUnknownSource),
		errors.Is(err, crawler.ErrEmptySource),
		errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrConfig):
		return http.StatusServiceUnavailable
	case errors.Is(err, crawler.ErrWatermarkLost):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrTransport),
		errors.Is(err, crawler.ErrDecode),
		errors.Is(err, crawler.ErrTimeParse),
		errors.Is(err, crawler.ErrLookup):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Int("status", status), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}
