package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/contract-risk/internal/application/analysis"
	appbatches "github.com/bryanwahyu/contract-risk/internal/application/batches"
	appshares "github.com/bryanwahyu/contract-risk/internal/application/shares"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
	"github.com/bryanwahyu/contract-risk/internal/logger"
	"github.com/bryanwahyu/contract-risk/internal/metrics"
	"github.com/bryanwahyu/contract-risk/internal/middleware"
)

// Services are the use cases the HTTP surface exposes.
type Services struct {
	Analyses *appanalysis.Service
	Batches  *appbatches.Service
	Shares   *appshares.Service
	Ledger   credit.Ledger
}

type Options struct {
	JWTSecret      []byte
	AdminKeys      map[string]string
	CORSOrigins    []string
	Health         map[string]middleware.HealthChecker
	Limiter        *middleware.RateLimiter // nil disables rate limiting
	MaxUploadBytes int64
	Log            *logger.Logger
}

type Router struct {
	svc       Services
	log       *logger.Logger
	maxUpload int64
}

func NewRouter(svc Services, opts Options) http.Handler {
	r := &Router{svc: svc, log: logger.OrNop(opts.Log), maxUpload: opts.MaxUploadBytes}
	if r.maxUpload <= 0 {
		r.maxUpload = appanalysis.DefaultMaxUploadBytes
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Logging(r.log))
	mux.Use(middleware.Tracing)
	mux.Use(middleware.Metrics)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler)
	mux.Get("/metrics", metrics.Handler)

	limit := func(next http.Handler) http.Handler { return next }
	if opts.Limiter != nil {
		limit = opts.Limiter.RateLimit
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.With(limit).Get("/shares/{shareId}", r.wrap(r.handleSharePublic))

		rt.Group(func(rt chi.Router) {
			rt.Use(middleware.JWTAuth(opts.JWTSecret))
			rt.Use(limit)

			rt.Post("/contracts/analyze/text", r.wrap(r.handleAnalyzeText))
			rt.Post("/contracts/analyze/upload", r.wrap(r.handleAnalyzeUpload))
			rt.Post("/contracts/analyze/upload/batch", r.wrap(r.handleBatchPart))
			rt.Post("/contracts/analyze/upload/batch/finalize", r.wrap(r.handleBatchFinalize))
			rt.Get("/contracts/history", r.wrap(r.handleHistory))
			rt.Get("/contracts/{id}/file", r.wrap(r.handleDownload))

			rt.Delete("/analyses/{id}", r.wrap(r.handleDeleteOne))
			rt.Delete("/analyses", r.wrap(r.handleDeleteAll))

			rt.Post("/shares", r.wrap(r.handleShareCreate))
			rt.Get("/credits", r.wrap(r.handleCredits))
		})
	})

	mux.Route("/admin", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(opts.AdminKeys))
		rt.Post("/credits/grant", r.wrap(r.handleGrant))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status, body := errorBody(err)
			if status >= http.StatusInternalServerError {
				r.log.Error("http.handler.failed",
					"request_id", middleware.RequestIDFromContext(req.Context()),
					"path", req.URL.Path, "status", status, "error", err)
			}
			writeJSON(w, status, body)
		}
	}
}

//
// ==== ANALYSIS ====
//

// POST /v1/contracts/analyze/text
// Body: {"type": "lease", "identity": "A", "content": "..."}
func (r *Router) handleAnalyzeText(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	var body struct {
		Type     string `json:"type" validate:"omitempty,max=32"`
		Identity string `json:"identity" validate:"required,max=8"`
		Content  string `json:"content"`
	}
	if err := middleware.DecodeJSONLimit(w, req, &body, r.maxUpload); err != nil {
		return err
	}

	rec, err := r.svc.Analyses.SubmitText(req.Context(), appanalysis.TextCommand{
		OwnerID:  owner,
		Category: body.Type,
		Identity: body.Identity,
		Text:     body.Content,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, analysisView(rec, nil))
}

// POST /v1/contracts/analyze/upload (multipart: file, type, identity)
func (r *Router) handleAnalyzeUpload(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	form, err := readMultipart(req, r.maxUpload)
	if err != nil {
		return err
	}
	if form.file == nil {
		return fmt.Errorf("%w: file is required", analysis.ErrInvalidInput)
	}

	rec, err := r.svc.Analyses.SubmitFile(req.Context(), appanalysis.FileCommand{
		OwnerID:   owner,
		Category:  form.fields["type"],
		Identity:  form.fields["identity"],
		Data:      form.file.data,
		FileName:  form.file.name,
		MediaType: form.file.mediaType,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, analysisView(rec, nil))
}

// GET /v1/contracts/history?limit=50
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit, appanalysis.DefaultHistoryLimit, appanalysis.MaxHistoryLimit)

	list, err := r.svc.Analyses.ListHistory(req.Context(), owner, limit)
	if err != nil {
		return err
	}
	items := make([]historyItem, 0, len(list))
	for _, rec := range list {
		items = append(items, historyView(rec))
	}
	return writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GET /v1/contracts/{id}/file
func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	id, err := pathID(req)
	if err != nil {
		return err
	}
	f, err := r.svc.Analyses.FetchOriginalFile(req.Context(), owner, id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", f.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.FileName}))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(f.Data)
	return err
}

// DELETE /v1/analyses/{id}
func (r *Router) handleDeleteOne(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.svc.Analyses.DeleteOne(req.Context(), owner, id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": 1, "id": id})
}

// DELETE /v1/analyses
func (r *Router) handleDeleteAll(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	n, err := r.svc.Analyses.DeleteAll(req.Context(), owner)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

//
// ==== BATCH ====
//

// POST /v1/contracts/analyze/upload/batch
// multipart: batch_id, idx (1-based), total, type, identity, file
func (r *Router) handleBatchPart(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	form, err := readMultipart(req, r.maxUpload)
	if err != nil {
		return err
	}
	if form.file == nil {
		return fmt.Errorf("%w: file is required", analysis.ErrInvalidInput)
	}
	if err := middleware.ValidateBatchID(form.fields["batch_id"]); err != nil {
		return err
	}
	idx, err1 := strconv.Atoi(form.fields["idx"])
	total, err2 := strconv.Atoi(form.fields["total"])
	if err1 != nil || err2 != nil {
		return fmt.Errorf("%w: idx and total must be integers", middleware.ErrInvalidRequest)
	}

	p, err := r.svc.Batches.SubmitPart(req.Context(), appbatches.PartCommand{
		OwnerID:   owner,
		BatchID:   form.fields["batch_id"],
		Position:  idx,
		Total:     total,
		Category:  form.fields["type"],
		Identity:  form.fields["identity"],
		Data:      form.file.data,
		FileName:  form.file.name,
		MediaType: form.file.mediaType,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"meta": map[string]any{
			"processedImages": p.Received,
			"totalImages":     p.Total,
			"batchId":         p.BatchID,
			"pending":         true,
			"readyToFinalize": p.Ready(),
		},
	})
}

// POST /v1/contracts/analyze/upload/batch/finalize
// Body: {"batch_id": "..."}
func (r *Router) handleBatchFinalize(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	var body struct {
		BatchID string `json:"batch_id" validate:"required,batchid"`
	}
	if err := middleware.DecodeJSONLimit(w, req, &body, r.maxUpload); err != nil {
		return err
	}
	rec, err := r.svc.Batches.Finalize(req.Context(), owner, body.BatchID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, analysisView(rec, map[string]any{"batchId": body.BatchID}))
}

//
// ==== SHARES & CREDITS ====
//

// POST /v1/shares
// Body: {"analysis_id": 12}
func (r *Router) handleShareCreate(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	var body struct {
		AnalysisID int64 `json:"analysis_id" validate:"required,gt=0"`
	}
	if err := middleware.DecodeJSONLimit(w, req, &body, r.maxUpload); err != nil {
		return err
	}
	snap, err := r.svc.Shares.Create(req.Context(), owner, body.AnalysisID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]any{
		"shareId":   snap.ID,
		"expiresAt": snap.ExpiresAt,
	})
}

// GET /v1/shares/{shareId} (public)
func (r *Router) handleSharePublic(w http.ResponseWriter, req *http.Request) error {
	snap, err := r.svc.Shares.Get(req.Context(), chi.URLParam(req, "shareId"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"contractName": snap.ContractName,
		"score":        snap.Score,
		"scoreTitle":   snap.ScoreTitle,
		"riskSummary":  snap.RiskSummary,
		"expiresAt":    snap.ExpiresAt,
	})
}

// GET /v1/credits
func (r *Router) handleCredits(w http.ResponseWriter, req *http.Request) error {
	owner, err := ownerOf(req)
	if err != nil {
		return err
	}
	bal, err := r.svc.Ledger.Balance(req.Context(), owner)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"credits": bal})
}

// POST /admin/credits/grant
// Body: {"user_id": 7, "amount": 10}
func (r *Router) handleGrant(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		UserID int64 `json:"user_id" validate:"required,gt=0"`
		Amount int   `json:"amount" validate:"required,gt=0,lte=100000"`
	}
	if err := middleware.DecodeJSONLimit(w, req, &body, r.maxUpload); err != nil {
		return err
	}
	bal, err := r.svc.Ledger.Grant(req.Context(), body.UserID, body.Amount)
	if err != nil {
		return err
	}
	r.log.Info("credit.granted", "admin", middleware.AdminFromContext(req.Context()),
		"user_id", body.UserID, "amount", body.Amount, "balance", bal)
	return writeJSON(w, http.StatusOK, map[string]any{"userId": body.UserID, "credits": bal})
}

//
// ==== HELPERS ====
//

var errUnauthorized = errors.New("unauthorized")

func ownerOf(req *http.Request) (int64, error) {
	owner, ok := middleware.OwnerFromContext(req.Context())
	if !ok {
		return 0, errUnauthorized
	}
	return owner, nil
}

func pathID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id", analysis.ErrInvalidInput)
	}
	return id, nil
}

type upload struct {
	data      []byte
	name      string
	mediaType string
}

type multipartForm struct {
	fields map[string]string
	file   *upload
}

const maxFieldBytes = 4 << 10

// readMultipart streams the form so an oversized file is rejected after
// max+1 bytes instead of being spooled to disk.
func readMultipart(req *http.Request, max int64) (*multipartForm, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: multipart form expected", analysis.ErrInvalidInput)
	}
	form := &multipartForm{fields: map[string]string{}}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed multipart body", analysis.ErrInvalidInput)
		}
		name := p.FormName()
		switch {
		case name == "file":
			data, err := io.ReadAll(io.LimitReader(p, max+1))
			if err != nil {
				return nil, fmt.Errorf("%w: read file", analysis.ErrInvalidInput)
			}
			if int64(len(data)) > max {
				return nil, fmt.Errorf("%w: max %d bytes", analysis.ErrFileTooLarge, max)
			}
			form.file = &upload{data: data, name: p.FileName(), mediaType: p.Header.Get("Content-Type")}
		case name != "" && p.FileName() == "":
			v, err := io.ReadAll(io.LimitReader(p, maxFieldBytes))
			if err != nil {
				return nil, fmt.Errorf("%w: read field %s", analysis.ErrInvalidInput, name)
			}
			form.fields[name] = middleware.SanitizeString(string(v))
		}
		_ = p.Close()
	}
	return form, nil
}
