package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"vellum/internal/middleware"
	"vellum/internal/retrieval"
)

// Retriever produces the assembled context for a chat question. The LLM
// completion call itself lives outside this service.
type Retriever interface {
	Retrieve(ctx context.Context, query string, allowedDocIDs []string, topK int) (*retrieval.Result, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

type contextRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
	TopK        int      `json:"top_k,omitempty"`
}

// Context serves POST /chat/context: the retrieval result for a question,
// scoped to the session's documents.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}
	if len(req.DocumentIDs) == 0 {
		h.writeError(ctx, w, "VALIDATION_ERROR", "document_ids is required", http.StatusBadRequest)
		return
	}

	result, err := h.retriever.Retrieve(ctx, req.Query, req.DocumentIDs, req.TopK)
	if err != nil {
		slog.ErrorContext(ctx, "retrieval failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "retrieval failed", http.StatusInternalServerError)
		return
	}

	if result.Spans == nil {
		result.Spans = []retrieval.Span{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
