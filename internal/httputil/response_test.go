package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/communicity/portal/internal/logging"
)

func TestWriteErrorResponseIncludesTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-42"))
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, req, http.StatusBadGateway, "RECORD_FETCH_FAILED", "Failed to load cities", map[string]interface{}{"level": "city"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.TraceID != "trace-42" {
		t.Fatalf("trace_id = %q, want trace-42", body.TraceID)
	}
	if body.Details["level"] != "city" {
		t.Fatalf("details = %v", body.Details)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !truncated || string(data) != "abcd" {
		t.Fatalf("got %q truncated=%v, want abcd truncated=true", data, truncated)
	}

	data, truncated, err = ReadAllWithLimit(strings.NewReader("abc"), 4)
	if err != nil || truncated || string(data) != "abc" {
		t.Fatalf("got %q truncated=%v err=%v", data, truncated, err)
	}
}

func TestReadAllStrictRejectsOversize(t *testing.T) {
	_, err := ReadAllStrict(strings.NewReader("abcdef"), 3)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestReadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@b.c"}`))
	var v struct {
		Email string `json:"email"`
	}
	if err := ReadJSON(req, &v); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if v.Email != "a@b.c" {
		t.Fatalf("email = %q", v.Email)
	}

	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(""))
	if err := ReadJSON(req, &v); err == nil {
		t.Fatal("expected error for empty body")
	}
}
