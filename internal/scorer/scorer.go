package scorer

import (
	"context"

	"barkwatch/internal/normalizer"
)

// Scorer produces the per-frame label scores of one audio file.
type Scorer interface {
	Score(ctx context.Context, path string) (normalizer.ScoreMatrix, error)
}
