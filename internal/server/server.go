package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/dispatch"
	"github.com/cyderes/content-planner/internal/generator"
	"github.com/cyderes/content-planner/internal/models"
	"github.com/cyderes/content-planner/internal/planner"
)

// Planner is the batch planning API served over HTTP
type Planner interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	SyncAccounts(ctx context.Context) ([]models.Account, error)
	CreateBatch(ctx context.Context, req planner.CreateBatchRequest) (*planner.BatchDetail, error)
	ListBatches(ctx context.Context) ([]models.BatchSummary, error)
	GetBatch(ctx context.Context, id int64) (*planner.BatchDetail, error)
	UpdatePost(ctx context.Context, id int64, upd planner.PostUpdate) (*models.Post, error)
	RegeneratePost(ctx context.Context, id int64) (*models.Post, error)
	GenerateDay(ctx context.Context, batchID int64, date string) ([]models.Post, error)
	WeeklyBrief(ctx context.Context, req planner.BriefRequest) (*generator.Brief, error)
	UploadMedia(ctx context.Context, accountID int64, filename, contentType string, file io.Reader) (*models.Media, error)
}

// Dispatcher sends batches to the scheduling provider
type Dispatcher interface {
	DispatchBatch(ctx context.Context, batchID int64, opts dispatch.Options) ([]models.DispatchResult, error)
}

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server handles HTTP requests
type Server struct {
	config     config.ServerConfig
	planner    Planner
	dispatcher Dispatcher
	pinger     Pinger
	log        logrus.FieldLogger
	server     *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, p Planner, d Dispatcher, pinger Pinger, log logrus.FieldLogger) *Server {
	s := &Server{
		config:     cfg,
		planner:    p,
		dispatcher: d,
		pinger:     pinger,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("GET /accounts/sync", s.handleSyncAccounts)
	mux.HandleFunc("GET /batches", s.handleBatches)
	mux.HandleFunc("POST /batches", s.handleCreateBatch)
	mux.HandleFunc("GET /batches/{id}", s.handleBatchByID)
	mux.HandleFunc("POST /batches/{id}/schedule-late", s.handleScheduleBatch)
	mux.HandleFunc("PATCH /posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("POST /posts/{id}/regenerate", s.handleRegeneratePost)
	mux.HandleFunc("POST /generate/day", s.handleGenerateDay)
	mux.HandleFunc("POST /media/upload", s.handleUploadMedia)
	mux.HandleFunc("POST /late/schedule", s.handleLegacySchedule)
	mux.HandleFunc("POST /ai/weekly-brief", s.handleWeeklyBrief)
	mux.HandleFunc("GET /auth/buffer/callback", s.handleBufferCallback)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRequestID(s.withLogging(s.withRecovery(mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the fully wrapped request handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.writeError(w, r, fmt.Errorf("storage ping failed: %w", err), "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.planner.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) handleSyncAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.planner.SyncAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err, "failed to sync accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.planner.ListBatches(r.Context())
	if err != nil {
		s.writeError(w, r, err, "failed to list batches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req planner.CreateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}

	detail, err := s.planner.CreateBatch(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, "failed to create batch")
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batch")
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	detail, err := s.planner.GetBatch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, "failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batch": detail.Batch, "posts": detail.Posts})
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "post")
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	var upd planner.PostUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.writeError(w, r, err, "")
		return
	}

	post, err := s.planner.UpdatePost(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err, "failed to update post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleRegeneratePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "post")
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	post, err := s.planner.RegeneratePost(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, "failed to regenerate post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleGenerateDay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchID int64  `json:"batchId"`
		Date    string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if req.BatchID <= 0 || req.Date == "" {
		s.writeError(w, r, apperr.Validationf("batchId and date are required"), "")
		return
	}

	posts, err := s.planner.GenerateDay(r.Context(), req.BatchID, req.Date)
	if err != nil {
		s.writeError(w, r, err, "failed to generate day")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.config.MaxUploadBytes {
		s.writeError(w, r, apperr.Validationf("file exceeds the %d byte upload limit", s.config.MaxUploadBytes), "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apperr.Validationf("file exceeds the %d byte upload limit", tooLarge.Limit), "")
			return
		}
		s.writeError(w, r, apperr.Validationf("invalid multipart form: %v", err), "")
		return
	}
	defer r.MultipartForm.RemoveAll()

	accountID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("accountId")), 10, 64)
	if err != nil || accountID <= 0 {
		s.writeError(w, r, apperr.Validationf("accountId is required"), "")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, apperr.Validationf("file is required"), "")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	media, err := s.planner.UploadMedia(r.Context(), accountID, header.Filename, contentType, file)
	if err != nil {
		s.writeError(w, r, err, "failed to upload media")
		return
	}
	writeJSON(w, http.StatusOK, media)
}

func (s *Server) handleScheduleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batch")
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	var req struct {
		RetryFailed bool `json:"retryFailed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	s.dispatch(w, r, id, req.RetryFailed)
}

func (s *Server) handleLegacySchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchID     int64 `json:"batchId"`
		RetryFailed bool  `json:"retryFailed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if req.BatchID <= 0 {
		s.writeError(w, r, apperr.Validationf("batchId is required"), "")
		return
	}
	s.dispatch(w, r, req.BatchID, req.RetryFailed)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, batchID int64, retryFailed bool) {
	results, err := s.dispatcher.DispatchBatch(r.Context(), batchID, dispatch.Options{RetryFailed: retryFailed})
	if err != nil {
		s.writeError(w, r, err, "failed to schedule batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleWeeklyBrief(w http.ResponseWriter, r *http.Request) {
	var req planner.BriefRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}

	brief, err := s.planner.WeeklyBrief(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, "failed to generate brief")
		return
	}
	writeJSON(w, http.StatusOK, brief)
}

// handleBufferCallback answers the OAuth callback of the retired Buffer integration
func (s *Server) handleBufferCallback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusGone, map[string]string{
		"error": "Buffer integration has been removed; connect accounts in Late and sync them instead",
	})
}

// writeError maps err onto a status code and a client-safe message. Server
// errors are logged with the request id; their details never reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if fallback == "" {
		fallback = http.StatusText(status)
	}

	body := map[string]interface{}{"error": apperr.PublicMessage(err, fallback)}
	var missing *apperr.MissingAccountError
	if errors.As(err, &missing) {
		body["platforms"] = missing.Platforms
	}

	if status >= http.StatusInternalServerError {
		s.requestLog(r).WithError(err).Error("Request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body; an empty body leaves v untouched
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, resource string) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("invalid %s id %q", resource, raw)
	}
	return id, nil
}
