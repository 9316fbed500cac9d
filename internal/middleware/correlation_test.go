package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationID(t *testing.T) {
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := r.Context().Value(CorrelationKey).(string)
		if !ok || id == "" {
			t.Error("correlation id missing from context")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("header missing")
	}
}

func TestCorrelationID_HonoursIncomingHeader(t *testing.T) {
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetCorrelationID(r.Context()); got != "upstream-id" {
			t.Errorf("expected upstream-id, got %q", got)
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-ID", "upstream-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Correlation-ID") != "upstream-id" {
		t.Errorf("header not echoed, got %q", w.Header().Get("X-Correlation-ID"))
	}
}

func TestWithDocumentID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	ctx := WithDocumentID(req.Context(), "doc-1")
	if got := GetDocumentID(ctx); got != "doc-1" {
		t.Errorf("expected doc-1, got %q", got)
	}
	if got := GetDocumentID(req.Context()); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
