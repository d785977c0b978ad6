package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/labreportparser/internal/models"
	"github.com/Lllllllleong/labreportparser/internal/processor"
	"github.com/google/uuid"
)

const serviceName = "medical-pdf-parser"

// HTTPHandler serves parse requests, health checks and metrics.
type HTTPHandler struct {
	parser  *ParserFunction
	apiKey  string
	maxBody int64
	mux     *http.ServeMux
}

// NewHTTPHandler checks X-API-Key on parse requests when apiKey is set.
func NewHTTPHandler(p *ParserFunction, apiKey string) *HTTPHandler {
	h := &HTTPHandler{
		parser: p,
		apiKey: apiKey,
		// base64 inflates by 4/3; leave room for the JSON envelope.
		maxBody: p.config.MaxPayloadBytes/3*4 + 64<<10,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("/health", h.health)
	h.mux.Handle("/metrics", p.metrics.Handler())
	h.mux.HandleFunc("/", h.parse)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
}

func (h *HTTPHandler) parse(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	requestID := uuid.NewString()
	if h.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(h.apiKey)) != 1 {
		slog.Warn("Rejected request with invalid API key.", "requestId", requestID, "remoteAddr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Invalid or missing API key", requestID)
		return
	}

	var req models.ParseRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "Request body too large", requestID)
			return
		}
		writeError(w, http.StatusBadRequest, "No JSON data provided", requestID)
		return
	}

	resp, err := h.parser.ProcessWithID(r.Context(), requestID, &req)
	if err != nil {
		code, msg := errorStatus(err)
		writeError(w, code, msg, requestID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// errorStatus maps a parse error onto an HTTP status and a message that is
// safe to return to the caller.
func errorStatus(err error) (int, string) {
	var all *processor.AllFailedError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, processor.ErrBudgetExhausted):
		return http.StatusGatewayTimeout, "Processing did not finish within the time budget"
	case errors.As(err, &all) && all.AllMalformed():
		return http.StatusBadRequest, "Document was rejected as malformed by every processor"
	case errors.Is(err, processor.ErrAllFailed):
		return http.StatusInternalServerError, "Document processing failed: no processor available"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *HTTPHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "healthy", Service: serviceName}
	anyUp := false
	for _, p := range h.parser.Health(ctx) {
		ph := models.ProcessorHealth{
			ID:        p.ID,
			Role:      string(p.Role),
			Kind:      string(p.Kind),
			Available: p.Available,
			Error:     p.Error,
		}
		if p.DownSince != nil {
			ph.DownSince = p.DownSince.UTC().Format(time.RFC3339)
		}
		anyUp = anyUp || p.Available
		resp.Processors = append(resp.Processors, ph)
	}
	code := http.StatusOK
	if !anyUp {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeError(w http.ResponseWriter, code int, msg, requestID string) {
	writeJSON(w, code, models.ErrorResponse{Status: models.StatusError, Message: msg, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
