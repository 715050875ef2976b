package intent

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func newTestClassifier() *Classifier {
	return NewClassifier(NewRegistry(DefaultDomains()))
}

func TestClassify_UnambiguousDomainCue(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		name   string
		text   string
		domain string
	}{
		{"engineering", "deploy the docker container to kubernetes", "Engineering"},
		{"legal", "review this NDA for breach of contract exposure", "Legal"},
		{"finance", "what does the balance sheet say about cash flow", "Finance"},
		{"healthcare", "is this patient record workflow HIPAA compliant", "Healthcare"},
		{"marketing", "draft a press release about our funding", "Marketing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text)
			if got.Domain != tt.domain {
				t.Errorf("expected domain %s, got %s (scores %v)", tt.domain, got.Domain, got.AllScores)
			}
			if got.Confidence <= 0 {
				t.Errorf("expected positive confidence, got %f", got.Confidence)
			}
		})
	}
}

func TestClassify_NoMatchForcesGeneral(t *testing.T) {
	c := newTestClassifier()

	for _, text := range []string{
		"hello there",
		"what a lovely day outside",
		"",
	} {
		got := c.Classify(text)
		if got.Domain != GeneralDomain {
			t.Errorf("Classify(%q): expected General, got %s", text, got.Domain)
		}
		if got.Confidence != 0 {
			t.Errorf("Classify(%q): General result should carry zero confidence, got %f", text, got.Confidence)
		}
	}
}

func TestClassify_ScoreCapAtOne(t *testing.T) {
	reg := NewRegistry([]Domain{{
		Name:     "Engineering",
		Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)docker`)},
		Keywords: []string{"deploy", "api", "database", "server", "code", "bug", "latency"},
	}})
	c := NewClassifier(reg)

	got := c.Classify("deploy the docker api server code to fix the database bug and latency")
	if got.Confidence > 1.0 {
		t.Errorf("score must be capped at 1.0, got %f", got.Confidence)
	}
}

func TestClassify_TieKeepsRegistrationOrder(t *testing.T) {
	reg := NewRegistry([]Domain{
		{Name: "First", Keywords: []string{"widget", "gadget"}},
		{Name: "Second", Keywords: []string{"widget", "gadget"}},
	})
	c := NewClassifier(reg)

	got := c.Classify("the widget and the gadget")
	if got.Domain != "First" {
		t.Errorf("tie should keep first registered domain, got %s", got.Domain)
	}
}

func TestClassify_PatternBeatsScatteredKeywords(t *testing.T) {
	c := newTestClassifier()

	got := c.Classify("set up ci/cd for the project")
	if got.Domain != "Engineering" {
		t.Errorf("pattern hit should classify Engineering, got %s", got.Domain)
	}
}

func TestRegistry_RegisterReplacesInPlace(t *testing.T) {
	reg := NewRegistry([]Domain{
		{Name: "A", Keywords: []string{"alpha"}},
		{Name: "B", Keywords: []string{"beta"}},
	})
	reg.Register(Domain{Name: "A", Keywords: []string{"omega"}})

	domains := reg.Domains()
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains after replace, got %d", len(domains))
	}
	if domains[0].Name != "A" || domains[0].Keywords[0] != "omega" {
		t.Errorf("replace should keep position and update definition, got %+v", domains[0])
	}
}

// --- embedding classifier ---

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func TestEmbeddingClassifier_PicksHighestSimilarity(t *testing.T) {
	reg := NewRegistry([]Domain{
		{Name: "Legal", Exemplars: []string{"legal exemplar"}},
		{Name: "Finance", Exemplars: []string{"finance exemplar"}},
	})
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"legal exemplar":     {1, 0, 0},
		"finance exemplar":   {0, 1, 0},
		"is this contract ok": {0.9, 0.1, 0},
	}}

	ec := NewEmbeddingClassifier(context.Background(), reg, emb, testLogger())
	got := ec.Classify(context.Background(), "is this contract ok")
	if got.Domain != "Legal" {
		t.Errorf("expected Legal, got %s", got.Domain)
	}
	if got.Confidence < similarityFloor {
		t.Errorf("expected confidence above floor, got %f", got.Confidence)
	}
}

func TestEmbeddingClassifier_LowSimilarityFallsBack(t *testing.T) {
	reg := NewRegistry(DefaultDomains())
	emb := &fakeEmbedder{vectors: map[string][]float64{}}
	// All exemplar centroids default to {0,0,1}; orthogonal query → sim 0.
	emb.vectors["deploy the docker container to kubernetes"] = []float64{1, 0, 0}

	ec := NewEmbeddingClassifier(context.Background(), reg, emb, testLogger())
	got := ec.Classify(context.Background(), "deploy the docker container to kubernetes")
	if got.Domain != "Engineering" {
		t.Errorf("low similarity should fall back to keyword classifier, got %s", got.Domain)
	}
}

func TestEmbeddingClassifier_EmbedderErrorFallsBack(t *testing.T) {
	reg := NewRegistry(DefaultDomains())
	ec := NewEmbeddingClassifier(context.Background(), reg, &fakeEmbedder{err: errors.New("backend down")}, testLogger())

	got := ec.Classify(context.Background(), "deploy the docker container to kubernetes")
	if got.Domain != "Engineering" {
		t.Errorf("embedder failure should fall back silently, got %s", got.Domain)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"mismatched length", []float64{1, 0}, []float64{1}, 0.0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
