package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stacklok/ociref-server/internal/api/common"
	"github.com/stacklok/ociref-server/internal/badge"
	"github.com/stacklok/ociref-server/internal/official"
	"github.com/stacklok/ociref-server/internal/reference"
	"github.com/stacklok/ociref-server/internal/telemetry"
	"github.com/stacklok/ociref-server/internal/webhook"
)

// ErrMalformedRequest wraps every body that cannot be decoded into the shape
// a route expects.
var ErrMalformedRequest = errors.New("malformed request")

// Messages sent with 400 responses.
const (
	msgInvalidReference = "Request body must be a JSON object with non-empty name and url"
	msgInvalidEvent     = "Request body is not a registry push event with target.repository, target.tag and request.host"
	msgInvalidOfficial  = "Request body must be a JSON object with non-empty category and name"
	msgInvalidCategory  = "Request must name a non-empty category in the JSON body or the category query parameter"
)

// officialRequest is the body of the /category routes.
type officialRequest struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

type handlers struct {
	refs         *reference.Store
	index        *official.Index
	normalizer   *webhook.Normalizer
	metrics      *telemetry.ReferenceMetrics
	maxBodyBytes int64
}

func (h *handlers) storeReference(w http.ResponseWriter, r *http.Request) {
	var ref reference.Reference
	if err := h.decode(w, r, &ref); err != nil {
		badRequest(w, r, msgInvalidReference, err)
		return
	}
	if err := ref.Validate(); err != nil {
		badRequest(w, r, msgInvalidReference, err)
		return
	}
	h.put(w, r, ref, telemetry.SourceAPI)
}

func (h *handlers) azureHook(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		badRequest(w, r, msgInvalidEvent, err)
		return
	}
	ref, err := h.normalizer.Normalize(body)
	if err != nil {
		badRequest(w, r, msgInvalidEvent, err)
		return
	}
	h.put(w, r, ref, telemetry.SourceWebhook)
}

func (h *handlers) put(w http.ResponseWriter, r *http.Request, ref reference.Reference, source string) {
	ctx := r.Context()
	if err := h.refs.Put(ctx, ref.Name, ref.URL); err != nil {
		storeFailure(w, r, "store reference", err)
		return
	}
	h.metrics.RecordReferenceStored(ctx, source)
	slog.InfoContext(ctx, "Stored reference", "name", ref.Name, "url", ref.URL, "source", source)
	common.WriteTextResponse(w, fmt.Sprintf("Url %s stored for %s", ref.URL, ref.Name), http.StatusOK)
}

func (h *handlers) addOfficial(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOfficial(w, r)
	if !ok {
		return
	}
	if err := h.index.Add(r.Context(), req.Category, req.Name); err != nil {
		storeFailure(w, r, "add official entry", err)
		return
	}
	common.WriteTextResponse(w, fmt.Sprintf("Official %s %s added", req.Category, req.Name), http.StatusOK)
}

func (h *handlers) removeOfficial(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOfficial(w, r)
	if !ok {
		return
	}
	if err := h.index.Remove(r.Context(), req.Category, req.Name); err != nil {
		storeFailure(w, r, "remove official entry", err)
		return
	}
	common.WriteTextResponse(w, fmt.Sprintf("Official %s %s removed", req.Category, req.Name), http.StatusOK)
}

func (h *handlers) listOfficial(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		badRequest(w, r, msgInvalidCategory, err)
		return
	}

	var req officialRequest
	if len(bytes.TrimSpace(body)) == 0 {
		req.Category = r.URL.Query().Get("category")
	} else if err := decodeJSON(body, &req); err != nil {
		badRequest(w, r, msgInvalidCategory, err)
		return
	}
	if req.Category == "" {
		badRequest(w, r, msgInvalidCategory, fmt.Errorf("%w: category is required", ErrMalformedRequest))
		return
	}

	entries, err := h.index.List(r.Context(), req.Category)
	if err != nil {
		storeFailure(w, r, "list category", err)
		return
	}
	h.metrics.RecordOfficialListSize(r.Context(), len(entries))
	common.WriteJSONResponse(w, entries, http.StatusOK)
}

// badge always answers 200. Store errors degrade to the fallback badge.
func (h *handlers) badge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := BadgeKey(r.URL.Path)

	var url string
	if key != "" {
		stored, found, err := h.refs.Get(ctx, key)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "Badge lookup failed, serving fallback", "name", key, "error", err)
		case found:
			url = stored
		}
	}

	result := telemetry.BadgeFallback
	if url != "" {
		result = telemetry.BadgeFound
	}
	h.metrics.RecordBadgeLookup(ctx, result)

	w.Header().Set("Cache-Control", "no-cache")
	common.WriteJSONResponse(w, badge.ForURL(url), http.StatusOK)
}

func (h *handlers) decodeOfficial(w http.ResponseWriter, r *http.Request) (officialRequest, bool) {
	var req officialRequest
	if err := h.decode(w, r, &req); err != nil {
		badRequest(w, r, msgInvalidOfficial, err)
		return req, false
	}
	if req.Category == "" || req.Name == "" {
		badRequest(w, r, msgInvalidOfficial, fmt.Errorf("%w: category and name are required", ErrMalformedRequest))
		return req, false
	}
	return req, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	return decodeJSON(body, v)
}

func (h *handlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return body, nil
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, message string, err error) {
	slog.DebugContext(r.Context(), "Rejected request", "path", r.URL.Path, "error", err)
	common.WriteTextResponse(w, message, http.StatusBadRequest)
}

func storeFailure(w http.ResponseWriter, r *http.Request, operation string, err error) {
	slog.ErrorContext(r.Context(), "Store operation failed", "operation", operation, "error", err)
	common.WriteTextResponse(w, fmt.Sprintf("Failed to %s: %v", operation, err), http.StatusInternalServerError)
}
