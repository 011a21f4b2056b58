package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"barkwatch/internal/normalizer"
)

// Sidecar reads score matrices that the external classifier wrote next to
// each recording, e.g. yard_20260314_210000.wav.scores.json.
type Sidecar struct {
	suffix string
}

// NewSidecar creates a sidecar scorer. An empty suffix defaults to ".scores.json".
func NewSidecar(suffix string) *Sidecar {
	if suffix == "" {
		suffix = ".scores.json"
	}
	return &Sidecar{suffix: suffix}
}

// Score loads path+suffix.
func (s *Sidecar) Score(ctx context.Context, path string) (normalizer.ScoreMatrix, error) {
	if err := ctx.Err(); err != nil {
		return normalizer.ScoreMatrix{}, err
	}
	data, err := os.ReadFile(path + s.suffix)
	if err != nil {
		return normalizer.ScoreMatrix{}, fmt.Errorf("read scores: %w", err)
	}
	var m normalizer.ScoreMatrix
	if err := json.Unmarshal(data, &m); err != nil {
		return normalizer.ScoreMatrix{}, fmt.Errorf("decode scores %s: %w", path+s.suffix, err)
	}
	return m, nil
}
