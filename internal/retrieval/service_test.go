package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidwise/backend/internal/settings"
	"bidwise/backend/internal/vector"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeStore struct {
	hits      []vector.Hit
	searchErr error

	gotLimit     int
	gotDimension int
}

func (f *fakeStore) EnsureCollection(ctx context.Context, dimension int) error {
	f.gotDimension = dimension
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, points []vector.Point) error { return nil }

func (f *fakeStore) Search(ctx context.Context, vec []float32, limit int) ([]vector.Hit, error) {
	f.gotLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

func (f *fakeStore) Count(ctx context.Context) (int, error) { return len(f.hits), nil }

type staticSettingsRepo struct{ s *settings.Settings }

func (r *staticSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) { return r.s, nil }

func (r *staticSettingsRepo) Update(ctx context.Context, s *settings.Settings) error { return nil }

func intPtr(v int) *int             { return &v }
func float32Ptr(v float32) *float32 { return &v }

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{name: "lowercases", in: "Refund POLICY", want: []string{"refund", "policy"}},
		{name: "strips punctuation", in: "30-day, no-questions-asked!", want: []string{"30", "day", "no", "questions", "asked"}},
		{name: "keeps digits", in: "section 4.2", want: []string{"section", "4", "2"}},
		{name: "unicode letters survive", in: "café naïve", want: []string{"café", "naïve"}},
		{name: "empty", in: "  \t ", want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.in)
			if len(tc.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKeywordScore(t *testing.T) {
	t.Run("fraction of distinct query tokens", func(t *testing.T) {
		q := Tokenize("refund policy window")
		c := Tokenize("our refund window is thirty days")
		assert.InDelta(t, 2.0/3.0, keywordScore(q, c), 0.0001)
	})

	t.Run("duplicate query tokens count once", func(t *testing.T) {
		q := Tokenize("refund refund refund policy")
		c := Tokenize("refund terms")
		assert.InDelta(t, 0.5, keywordScore(q, c), 0.0001)
	})

	t.Run("empty sides score zero", func(t *testing.T) {
		assert.Zero(t, keywordScore(nil, Tokenize("text")))
		assert.Zero(t, keywordScore(Tokenize("text"), nil))
	})

	t.Run("full overlap scores one", func(t *testing.T) {
		q := Tokenize("alpha beta")
		c := Tokenize("beta gamma alpha")
		assert.InDelta(t, 1.0, keywordScore(q, c), 0.0001)
	})
}

func TestFuse(t *testing.T) {
	assert.InDelta(t, 0.7*0.8+0.3*0.5, fuse(0.8, 0.5, 0.7), 0.0001)
	// alpha=1 ignores keywords, alpha=0 ignores similarity
	assert.InDelta(t, 0.8, fuse(0.8, 0.5, 1), 0.0001)
	assert.InDelta(t, 0.5, fuse(0.8, 0.5, 0), 0.0001)
}

func newHits(n int) []vector.Hit {
	hits := make([]vector.Hit, n)
	for i := range hits {
		hits[i] = vector.Hit{
			ID:         fmt.Sprintf("hit-%d", i),
			Similarity: 1 - float32(i)*0.01,
			Content:    fmt.Sprintf("filler content %d", i),
			DocumentID: "doc",
			ChunkIndex: i,
		}
	}
	return hits
}

func TestHybridSearch_WidensThenTruncates(t *testing.T) {
	store := &fakeStore{hits: newHits(50)}
	svc := NewService(&fakeEmbedder{vec: []float32{1, 0}}, store, nil, nil, Defaults{TopK: 6, Widen: 40, Alpha: 0.7})

	results, err := svc.HybridSearch(context.Background(), "filler", nil)
	require.NoError(t, err)

	assert.Equal(t, 40, store.gotLimit, "candidate pool uses the widened limit")
	assert.Len(t, results, 6, "final slice is capped at topK")
	assert.Equal(t, 2, store.gotDimension)
}

func TestHybridSearch_LimitNeverBelowTopK(t *testing.T) {
	store := &fakeStore{hits: newHits(20)}
	svc := NewService(&fakeEmbedder{vec: []float32{1}}, store, nil, nil, Defaults{TopK: 10, Widen: 3, Alpha: 0.5})

	results, err := svc.HybridSearch(context.Background(), "filler", nil)
	require.NoError(t, err)

	assert.Equal(t, 10, store.gotLimit)
	assert.Len(t, results, 10)
}

func TestHybridSearch_KeywordOverlapResurfacesExactMatch(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{
		{ID: "paraphrase", Similarity: 0.90, Content: "customers may return items inside a month"},
		{ID: "literal", Similarity: 0.85, Content: "the refund window is 30 days"},
	}}
	svc := NewService(&fakeEmbedder{vec: []float32{1}}, store, nil, nil, Defaults{TopK: 2, Widen: 10, Alpha: 0.5})

	results, err := svc.HybridSearch(context.Background(), "refund window 30 days", nil)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "literal", results[0].ID, "lexical overlap outweighs the small similarity gap")
	assert.Greater(t, results[0].KeywordScore, results[1].KeywordScore)
}

func TestHybridSearch_StableOrderForTies(t *testing.T) {
	// identical similarity and zero keyword overlap: fused scores tie
	store := &fakeStore{hits: []vector.Hit{
		{ID: "first", Similarity: 0.8, Content: "aaa"},
		{ID: "second", Similarity: 0.8, Content: "bbb"},
		{ID: "third", Similarity: 0.8, Content: "ccc"},
	}}
	svc := NewService(&fakeEmbedder{vec: []float32{1}}, store, nil, nil, Defaults{TopK: 3, Widen: 3, Alpha: 1})

	results, err := svc.HybridSearch(context.Background(), "zzz", nil)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{results[0].ID, results[1].ID, results[2].ID})
}

func TestHybridSearch_OptionsOverrideSettingsOverrideDefaults(t *testing.T) {
	store := &fakeStore{hits: newHits(50)}
	set := settings.NewService(&staticSettingsRepo{s: &settings.Settings{
		SearchTopK:  4,
		SearchWiden: 20,
		SearchAlpha: 0.5,
	}})
	svc := NewService(&fakeEmbedder{vec: []float32{1}}, store, set, nil, Defaults{TopK: 6, Widen: 40, Alpha: 0.7})

	// settings layer wins over defaults
	results, err := svc.HybridSearch(context.Background(), "filler", nil)
	require.NoError(t, err)
	assert.Equal(t, 20, store.gotLimit)
	assert.Len(t, results, 4)

	// explicit options win over settings
	results, err = svc.HybridSearch(context.Background(), "filler", &Options{
		TopK:  intPtr(2),
		Widen: intPtr(8),
		Alpha: float32Ptr(0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, 8, store.gotLimit)
	assert.Len(t, results, 2)
}

func TestHybridSearch_EmbedderFailure(t *testing.T) {
	svc := NewService(&fakeEmbedder{err: errors.New("provider down")}, &fakeStore{}, nil, nil, Defaults{TopK: 6, Widen: 40, Alpha: 0.7})

	_, err := svc.HybridSearch(context.Background(), "query", nil)
	assert.ErrorContains(t, err, "provider down")
}

func TestHybridSearch_SearchFailure(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("index offline")}
	svc := NewService(&fakeEmbedder{vec: []float32{1}}, store, nil, nil, Defaults{TopK: 6, Widen: 40, Alpha: 0.7})

	_, err := svc.HybridSearch(context.Background(), "query", nil)
	assert.ErrorContains(t, err, "index offline")
}

func TestHybridSearch_EmptyIndex(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(&fakeEmbedder{vec: []float32{1}}, store, nil, nil, Defaults{TopK: 6, Widen: 40, Alpha: 0.7})

	results, err := svc.HybridSearch(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
