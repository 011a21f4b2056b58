package scorer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"barkwatch/internal/normalizer"
)

func TestSidecarReadsScores(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "yard_20260314_210000.wav")
	raw := `{"labels":["Bark"],"scores":[[0.9],[0.1]],"frame_duration":0.96}`
	if err := os.WriteFile(audio+".scores.json", []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewSidecar("").Score(context.Background(), audio)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.FrameDuration != 0.96 || len(m.Scores) != 2 || m.Labels[0] != "Bark" {
		t.Fatalf("unexpected matrix %+v", m)
	}
}

func TestSidecarMissingFile(t *testing.T) {
	if _, err := NewSidecar(".s.json").Score(context.Background(), filepath.Join(t.TempDir(), "none.wav")); err == nil {
		t.Fatalf("expected error for missing sidecar")
	}
}

func TestHTTPScorerUploadsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" || r.Header.Get("X-Api-Key") != "k" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(f)
		if hdr.Filename != "clip.wav" || string(body) != "RIFF" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(normalizer.ScoreMatrix{Labels: []string{"Bark"}, Scores: [][]float64{{0.7}}, FrameDuration: 0.5})
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewHTTP(HTTPConfig{URL: srv.URL, Headers: map[string]string{"X-Api-Key": "k"}})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	m, err := s.Score(context.Background(), audio)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.FrameDuration != 0.5 || m.Scores[0][0] != 0.7 {
		t.Fatalf("unexpected matrix %+v", m)
	}
}

func TestHTTPScorerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewHTTP(HTTPConfig{URL: srv.URL})
	if _, err := s.Score(context.Background(), audio); err == nil {
		t.Fatalf("expected error on 503")
	}
}
