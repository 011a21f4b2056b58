package violationhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"barkwatch/pkg/models"
)

func TestWriteViolationsPostsDatePayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	vs := []models.Violation{{ID: "v1", Type: models.Continuous, BarkEventIDs: []string{"a"}}}
	if err := w.WriteViolations(context.Background(), "2026-03-14", vs); err != nil {
		t.Fatalf("WriteViolations: %v", err)
	}
	if got.Date != "2026-03-14" || len(got.Violations) != 1 || got.Violations[0].ID != "v1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWriteViolationsFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w, _ := NewWriter(Config{URL: srv.URL})
	if err := w.WriteViolations(context.Background(), "2026-03-14", nil); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestNewWriterRequiresURL(t *testing.T) {
	if _, err := NewWriter(Config{}); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}
