package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
)

func testLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{Level: "debug", Format: "json", Output: buf})
}

func TestRequestIDGenerated(t *testing.T) {
	var gotID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = r.Context().Value(logger.RequestIDKey).(string)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/render-jobs", nil))

	if gotID == "" {
		t.Fatal("expected request ID in context")
	}
	if rec.Header().Get(RequestIDHeader) != gotID {
		t.Error("expected request ID echoed in response header")
	}
}

func TestRequestIDPreserved(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "client-supplied" {
		t.Error("expected client-supplied request ID to be preserved")
	}
}

func TestLoggingCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(testLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/render-jobs/missing", nil))

	var entry map[string]any
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	_ = json.Unmarshal([]byte(lines[len(lines)-1]), &entry)

	if entry["status"] != float64(404) {
		t.Errorf("expected status 404 in log, got %v", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("expected WARN level for 4xx, got %v", entry["level"])
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	handler := Recovery(testLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 after panic, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Error("expected JSON error envelope in response")
	}
}

func TestHandleError(t *testing.T) {
	var buf bytes.Buffer
	log := testLogger(&buf)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/render-jobs", nil)

	HandleError(rec, req, log, errors.Validation("preset not supported by template"))

	if rec.Code != 400 {
		t.Errorf("expected 400 for validation error, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VALIDATION_ERROR") {
		t.Error("expected validation code in body")
	}
}

func TestWriteErrorResponseEscaping(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, errors.CodeValidation, `bad "quote"`, nil)

	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
}
