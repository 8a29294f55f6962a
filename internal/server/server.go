// Package server exposes credential evaluation over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/config"
	"github.com/sells-group/credcheck/internal/evaluation"
	"github.com/sells-group/credcheck/internal/model"
	"github.com/sells-group/credcheck/internal/store"
)

// Evaluator runs one evaluation to completion.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluation.Request) (*model.Report, error)
}

// Reports reads stored reports.
type Reports interface {
	GetReport(ctx context.Context, reportID string) (*model.Report, error)
	ListReports(ctx context.Context, filter store.ReportFilter) ([]model.Report, error)
}

// Server handles the HTTP API.
type Server struct {
	eval    Evaluator
	reports Reports
	cfg     config.ServerConfig
}

// New builds a Server.
func New(eval Evaluator, reports Reports, cfg config.ServerConfig) *Server {
	return &Server{eval: eval, reports: reports, cfg: cfg}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/run-agent", s.handleRunAgent)
	r.Get("/reports", s.handleListReports)
	r.Get("/reports/{id}", s.handleGetReport)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return eris.Wrapf(err, "server: create upload dir %s", s.cfg.UploadDir)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runAgentResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	ReportID string        `json:"report_id,omitempty"`
	Result   *model.Result `json:"result,omitempty"`
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, runAgentResponse{Message: "invalid multipart upload"})
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	credPath, credName, err := s.saveUpload(r, "credential")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, runAgentResponse{Message: err.Error()})
		return
	}
	resumePath, resumeName, err := s.saveUpload(r, "resume")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, runAgentResponse{Message: err.Error()})
		return
	}

	report, err := s.eval.Evaluate(r.Context(), evaluation.Request{
		Files:          model.FilePaths{CredentialPath: credPath, ResumePath: resumePath},
		CredentialName: credName,
		ResumeName:     resumeName,
	})
	if err != nil {
		resp := runAgentResponse{Message: "failed to process credential"}
		if report != nil {
			resp.ReportID = report.ID
		}
		zap.L().Error("server: evaluation failed", zap.String("report_id", resp.ReportID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, runAgentResponse{
		Success:  true,
		Message:  "Agent ran successfully",
		ReportID: report.ID,
		Result:   report.Result,
	})
}

// saveUpload writes the named form file under the upload dir as
// <uuid><original name> and returns the stored path and original name.
func (s *Server) saveUpload(r *http.Request, field string) (string, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", "", eris.Errorf("%s file is required", field)
	}
	defer file.Close() //nolint:errcheck

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = field
	}
	dst := filepath.Join(s.cfg.UploadDir, uuid.New().String()+name)
	if err := writeUpload(dst, file); err != nil {
		return "", "", err
	}
	return dst, name, nil
}

func writeUpload(dst string, src multipart.File) error {
	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrap(err, "server: create upload")
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close() //nolint:errcheck
		return eris.Wrap(err, "server: write upload")
	}
	return eris.Wrap(out.Close(), "server: close upload")
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReportFilter{
		Status:         model.ReportStatus(q.Get("status")),
		CredentialType: model.Category(q.Get("credential_type")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	reports, err := s.reports.ListReports(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.reports.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		zap.L().Error("server: get report", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
