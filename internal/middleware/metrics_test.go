package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedStatuses struct {
	codes []int
}

func (r *recordedStatuses) RecordHTTPStatus(statusCode int) {
	r.codes = append(r.codes, statusCode)
}

// TestHTTPMetricsMiddleware_RecordsStatus はレスポンスのステータスコードが記録されることを検証する。
func TestHTTPMetricsMiddleware_RecordsStatus(t *testing.T) {
	recorder := &recordedStatuses{}
	mw := NewHTTPMetricsMiddleware(recorder)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/users", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(recorder.codes) != 1 || recorder.codes[0] != http.StatusConflict {
		t.Errorf("recorded codes = %v, want [409]", recorder.codes)
	}
}

// TestHTTPMetricsMiddleware_DefaultStatus はWriteHeader未呼び出し時に200が記録されることを検証する。
func TestHTTPMetricsMiddleware_DefaultStatus(t *testing.T) {
	recorder := &recordedStatuses{}
	mw := NewHTTPMetricsMiddleware(recorder)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(recorder.codes) != 1 || recorder.codes[0] != http.StatusOK {
		t.Errorf("recorded codes = %v, want [200]", recorder.codes)
	}
}
