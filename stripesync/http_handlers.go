// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/fuxxociety/wizarr/internal/auth"
)

// maxWebhookBodyBytes bounds webhook payloads; Stripe events are far
// smaller than this.
const maxWebhookBodyBytes = 1 << 20

// AdminAuthenticator extracts an authenticated admin identity from HTTP
// requests. Implementations should validate auth (e.g., JWT) and return
// the subject.
type AdminAuthenticator interface {
	GetSubject(r *http.Request) (string, error)
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPHandlers provides the HTTP surface: the public webhook endpoint and
// the admin backfill/sync endpoints.
type HTTPHandlers struct {
	engine        *SyncEngine
	authenticator AdminAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates the handler set
func NewHTTPHandlers(engine *SyncEngine, authenticator AdminAuthenticator, logger *slog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		engine:        engine,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandleWebhook ingests one Stripe webhook delivery. Status codes are
// chosen for Stripe's retry behavior: signature and payload problems get
// 400 (retrying cannot help), processing and storage failures get 500 so
// Stripe redelivers.
func (h *HTTPHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	requestID := uuid.NewString()
	ctx := auth.SetRequestID(r.Context(), requestID)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	err = h.engine.ProcessWebhook(ctx, payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrSignatureVerification) {
			h.logger.Warn("Webhook signature verification failed", "request_id", requestID, "error", err)
			h.writeError(w, http.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
			return
		}
		h.logger.Error("Failed to process webhook", "request_id", requestID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "webhook_failed", "Failed to process webhook")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(map[string]bool{"received": true}); err != nil {
		h.logger.Error("Failed to encode webhook response", "request_id", requestID, "error", err)
	}
}

// backfillRequest is the admin backfill request body.
type backfillRequest struct {
	Object                  string      `json:"object"`
	Created                 *RangeQuery `json:"created,omitempty"`
	BackfillRelatedEntities *bool       `json:"backfill_related_entities,omitempty"`
}

// HandleBackfill runs a backfill for one object name or "all"
func (h *HTTPHandlers) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	subject, err := h.authenticator.GetSubject(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse backfill request")
		return
	}
	if req.Object == "" {
		req.Object = "all"
	}

	requestID := uuid.NewString()
	h.logger.Info("Starting backfill",
		"request_id", requestID, "subject", subject, "object", req.Object)

	result, err := h.engine.SyncBackfill(r.Context(), &BackfillParams{
		Object:                  req.Object,
		Created:                 req.Created,
		BackfillRelatedEntities: req.BackfillRelatedEntities,
	})
	if err != nil {
		h.logger.Error("Backfill failed", "request_id", requestID, "object", req.Object, "error", err)
		h.writeError(w, http.StatusInternalServerError, "backfill_failed", "Failed to run backfill")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("Failed to encode backfill response", "request_id", requestID, "error", err)
	}
}

// HandleSyncEntity fetches and stores one object by its Stripe id
func (h *HTTPHandlers) HandleSyncEntity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	subject, err := h.authenticator.GetSubject(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	// Accept id via query (?id=) or JSON body {"id": "..."}
	id := r.URL.Query().Get("id")
	if id == "" {
		var body struct {
			ID string `json:"id"`
		}
		if e := json.NewDecoder(r.Body).Decode(&body); e == nil {
			id = body.ID
		}
	}
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "missing or invalid id")
		return
	}

	h.logger.Info("Syncing single entity", "subject", subject, "id", id)

	if err := h.engine.SyncSingleEntity(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Entity not found on Stripe")
			return
		}
		h.logger.Error("Single entity sync failed", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync_failed", "Failed to sync entity")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"synced": id}); err != nil {
		h.logger.Error("Failed to encode sync response", "id", id, "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
