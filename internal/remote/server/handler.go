package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/remote/blobstore"
	"github.com/sentinelops/fleetsync/internal/remote/metastore"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64  // bytes, for JSON endpoints
	MaxBlobSize       int64  // bytes, for photo uploads
	RequestsPerMinute int    // per-token rate limit
	AdminToken        string // for admin endpoints
	PublicURL         string // base of returned photo URLs; derived from the request when empty
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    1 << 20,  // 1MB
		MaxBlobSize:       32 << 20, // 32MB
		RequestsPerMinute: 300,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(meta metastore.MetaStore, blobs blobstore.BlobStore, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerMinute)
	auth := authMiddleware(tokens, logger)

	// auth runs before the limiter so windows are keyed by token.
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, rl.middleware)
	}

	h := &handlers{meta: meta, blobs: blobs, cfg: cfg, logger: logger}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := meta.LogCount(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: metastore unavailable"))
			return
		}
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Photos are public once uploaded, like a CDN bucket.
	mux.Handle("GET /photos/{object...}", applyMiddleware(http.HandlerFunc(h.getPhoto), rl.middleware))

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Logs
	mux.Handle("POST /api/v1/logs", withAuth(h.submitLog))

	// Assets
	mux.Handle("GET /api/v1/assets", withAuth(h.listAssets))
	mux.Handle("POST /api/v1/assets", withAuth(h.createAsset))
	mux.Handle("GET /api/v1/assets/{id}/logs", withAuth(h.listAssetLogs))
	mux.Handle("PATCH /api/v1/assets/{id}/hours", withAuth(h.updateHours))

	// Photos
	mux.Handle("PUT /api/v1/photos/{object...}", withAuth(h.putPhoto))

	// Identity
	mux.Handle("GET /api/v1/me", withAuth(handleMe))

	// Apply global middleware
	handler := applyMiddleware(mux,
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	meta   metastore.MetaStore
	blobs  blobstore.BlobStore
	cfg    *ServerConfig
	logger *slog.Logger
}

// --- Log Handlers ---

// submitLog stores one log. A repeated Idempotency-Key returns the log
// stored under it with 200 instead of 201.
func (h *handlers) submitLog(w http.ResponseWriter, r *http.Request) {
	var req remote.SubmitLogRequest
	if err := readJSON(w, r, h.cfg.MaxRequestBody, &req); err != nil {
		writeDecodeError(w, remote.CodeInvalidLog, err)
		return
	}

	if req.AssetID != "" && !remote.IsUUID(req.AssetID) {
		writeError(w, http.StatusUnprocessableEntity, remote.CodeInvalidReference,
			fmt.Sprintf("asset_id %q is not a valid UUID", req.AssetID))
		return
	}
	if req.OperatorID != nil && !remote.IsUUID(*req.OperatorID) {
		writeError(w, http.StatusUnprocessableEntity, remote.CodeInvalidReference,
			fmt.Sprintf("operator_id %q is not a valid UUID", *req.OperatorID))
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeValidationError(w, remote.CodeInvalidLog, err)
		return
	}

	l := &models.StoredLog{
		ID:           uuid.NewString(),
		AssetID:      req.AssetID,
		Type:         req.Type,
		HoursReading: req.HoursReading,
		Answers:      req.Answers,
		PhotoURL:     req.PhotoURL,
		GPSLocation:  req.GPSLocation,
		CreatedAt:    time.Now().UTC(),
	}
	if req.OperatorID != nil {
		l.OperatorID = *req.OperatorID
	}

	key := strings.TrimSpace(r.Header.Get(remote.IdempotencyHeader))
	stored, created, err := h.meta.InsertLog(r.Context(), l, key)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(w, http.StatusUnprocessableEntity, remote.CodeReferenceNotFound,
			fmt.Sprintf("asset %s does not exist", req.AssetID))
		return
	}
	if err != nil {
		h.logger.Error("insert log", "error", err, "asset_id", req.AssetID)
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}

	if !created {
		h.logger.Info("log replayed", "log_id", stored.ID, "idempotency_key", key)
		writeJSON(w, http.StatusOK, stored)
		return
	}

	h.logger.Info("log stored", "log_id", stored.ID, "asset_id", stored.AssetID, "type", stored.Type)
	h.cfg.Webhooks.NotifyLogCreated(stored)
	writeJSON(w, http.StatusCreated, stored)
}

func (h *handlers) listAssetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	logs, err := h.meta.ListLogsByAsset(r.Context(), r.PathValue("id"), limit)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(w, http.StatusNotFound, remote.CodeNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	if logs == nil {
		logs = []*models.StoredLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// --- Asset Handlers ---

func (h *handlers) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.meta.ListAssets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	if assets == nil {
		assets = []*models.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *handlers) createAsset(w http.ResponseWriter, r *http.Request) {
	var req remote.CreateAssetRequest
	if err := readJSON(w, r, h.cfg.MaxRequestBody, &req); err != nil {
		writeDecodeError(w, remote.CodeBadRequest, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeValidationError(w, remote.CodeBadRequest, err)
		return
	}

	asset := &models.Asset{
		ID:           req.ID,
		Name:         req.Name,
		InternalID:   req.InternalID,
		Category:     req.Category,
		Brand:        req.Brand,
		Model:        req.Model,
		CurrentHours: req.CurrentHours,
		Status:       req.Status,
		Location:     req.Location,
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}

	if err := h.meta.CreateAsset(r.Context(), asset); err != nil {
		if errors.Is(err, metastore.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (h *handlers) updateHours(w http.ResponseWriter, r *http.Request) {
	var req remote.HoursUpdateRequest
	if err := readJSON(w, r, h.cfg.MaxRequestBody, &req); err != nil {
		writeDecodeError(w, remote.CodeBadRequest, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeValidationError(w, remote.CodeBadRequest, err)
		return
	}

	asset, err := h.meta.UpdateAssetHours(r.Context(), r.PathValue("id"), req.Hours)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(w, http.StatusNotFound, remote.CodeNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// --- Photo Handlers ---

func (h *handlers) putPhoto(w http.ResponseWriter, r *http.Request) {
	object := r.PathValue("object")
	if !blobstore.ValidName(object) {
		writeError(w, http.StatusBadRequest, remote.CodeBadRequest, fmt.Sprintf("invalid object name %q", object))
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBlobSize)

	// Object names are derived from the owning record, so an existing
	// object is a retry of an upload that already landed.
	exists, err := h.blobs.Has(r.Context(), object)
	if err != nil {
		h.logger.Error("stat photo", "error", err, "object", object)
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	if exists {
		io.Copy(io.Discard, body)
		h.logger.Debug("photo already stored", "object", object)
		writeJSON(w, http.StatusOK, &remote.PhotoUploadResponse{URL: h.photoURL(r, object)})
		return
	}

	info, err := h.blobs.Put(r.Context(), object, r.Header.Get("Content-Type"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, remote.CodeTooLarge,
				fmt.Sprintf("photo exceeds %d bytes", h.cfg.MaxBlobSize))
			return
		}
		h.logger.Error("store photo", "error", err, "object", object)
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}

	h.logger.Debug("photo stored", "object", object, "size", info.Size)
	writeJSON(w, http.StatusCreated, &remote.PhotoUploadResponse{URL: h.photoURL(r, object)})
}

func (h *handlers) getPhoto(w http.ResponseWriter, r *http.Request) {
	rc, info, err := h.blobs.Get(r.Context(), r.PathValue("object"))
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		writeError(w, http.StatusNotFound, remote.CodeNotFound, "photo not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("ETag", `"`+info.SHA256+`"`)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

func (h *handlers) photoURL(r *http.Request, object string) string {
	base := strings.TrimRight(h.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/photos/" + object
}

// --- Identity and Health Handlers ---

func handleMe(w http.ResponseWriter, r *http.Request) {
	op, ok := operatorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "no operator bound to token")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}

// writeValidationError reports each failed field with the rule it broke.
func writeValidationError(w http.ResponseWriter, code string, err error) {
	resp := &remote.ErrorResponse{Error: code, Message: err.Error()}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Message = "validation failed"
		resp.Detail = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Detail[fe.Field()] = fe.Tag()
		}
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func readJSON(w http.ResponseWriter, r *http.Request, maxSize int64, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxSize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// writeDecodeError answers a body readJSON rejected: 413 when it ran past
// the limit, otherwise 400 with code.
func writeDecodeError(w http.ResponseWriter, code string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, remote.CodeTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, code, err.Error())
}

// --- Admin Token Handlers ---

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.AdminTokenCreateRequest
		if err := readJSON(w, r, 1<<20, &req); err != nil {
			writeDecodeError(w, remote.CodeBadRequest, err)
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeValidationError(w, remote.CodeBadRequest, err)
			return
		}

		rawToken, info, err := tokens.CreateToken(req.Description, models.Operator{
			ID:    req.OperatorID,
			Name:  req.OperatorName,
			OrgID: req.OrgID,
		})
		if err != nil {
			logger.Error("create token", "error", err)
			writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, remote.AdminTokenCreateResponse{
			Token:       rawToken,
			ID:          info.ID,
			Description: info.Desc,
			Operator:    info.Operator,
		})
	}
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
			return
		}

		// Metadata only, never hashes.
		entries := make([]remote.AdminTokenInfo, len(list))
		for i, t := range list {
			entries[i] = remote.AdminTokenInfo{
				ID:          t.ID,
				Description: t.Desc,
				Operator:    t.Operator,
				LastUsedAt:  t.LastUsedAt,
			}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "token ID required")
			return
		}

		if err := tokens.DeleteToken(id); err != nil {
			logger.Error("delete token", "error", err, "token_id", id)
			writeError(w, http.StatusNotFound, remote.CodeNotFound, err.Error())
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
