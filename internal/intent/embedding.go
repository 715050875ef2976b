package intent

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"
)

// Minimum cosine similarity for an embedding classification to stand on its
// own. Below this the keyword classifier decides instead.
const similarityFloor = 0.3

// Embedder produces a vector for a text. Implemented by the local provider
// client. Embedding calls may fail; the classifier treats any failure as a
// signal to fall back to keyword scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbeddingClassifier replaces keyword scoring with cosine similarity
// against a precomputed exemplar centroid per domain. Centroids are built
// once at construction; domains without exemplars (or whose exemplar
// embedding failed) are scored by the keyword path only.
type EmbeddingClassifier struct {
	registry  *Registry
	embedder  Embedder
	fallback  *Classifier
	centroids map[string][]float64
	logger    *zap.Logger
}

// NewEmbeddingClassifier precomputes domain centroids. Exemplar embedding
// failures are logged and skipped; they never fail construction.
func NewEmbeddingClassifier(ctx context.Context, registry *Registry, embedder Embedder, logger *zap.Logger) *EmbeddingClassifier {
	ec := &EmbeddingClassifier{
		registry:  registry,
		embedder:  embedder,
		fallback:  NewClassifier(registry),
		centroids: make(map[string][]float64),
		logger:    logger,
	}

	for _, d := range registry.Domains() {
		if len(d.Exemplars) == 0 {
			continue
		}
		vec, err := embedder.Embed(ctx, strings.Join(d.Exemplars, "\n"))
		if err != nil {
			logger.Warn("exemplar embedding failed, domain will use keyword scoring",
				zap.String("domain", d.Name),
				zap.Error(err),
			)
			continue
		}
		ec.centroids[d.Name] = vec
	}
	return ec
}

// Classify embeds the text and picks the domain with the highest cosine
// similarity. If the embedding backend fails, no centroids exist, or the
// best similarity is below the floor, it falls back to the keyword
// classifier with no error surfaced to the caller.
func (ec *EmbeddingClassifier) Classify(ctx context.Context, text string) *Intent {
	if len(ec.centroids) == 0 {
		return ec.fallback.Classify(text)
	}

	qv, err := ec.embedder.Embed(ctx, text)
	if err != nil {
		ec.logger.Debug("query embedding failed, using keyword classifier", zap.Error(err))
		return ec.fallback.Classify(text)
	}

	scores := make(map[string]float64, len(ec.centroids))
	best := ""
	bestScore := 0.0
	for _, d := range ec.registry.Domains() {
		centroid, ok := ec.centroids[d.Name]
		if !ok {
			continue
		}
		sim := cosineSimilarity(qv, centroid)
		scores[d.Name] = sim
		if sim > bestScore {
			best = d.Name
			bestScore = sim
		}
	}

	if bestScore < similarityFloor {
		return ec.fallback.Classify(text)
	}
	return &Intent{Domain: best, Confidence: bestScore, AllScores: scores}
}

// cosineSimilarity returns the cosine of the angle between two vectors, or 0
// for mismatched or zero-magnitude inputs.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
