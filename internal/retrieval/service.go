package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"bidwise/backend/internal/settings"
	"bidwise/backend/internal/vector"
)

// RetrievedChunk is one ranked retrieval result. Score is the fused value
// the final ordering is based on; Similarity and KeywordScore are the raw
// signals it was fused from.
type RetrievedChunk struct {
	ID           string  `json:"id"`
	Score        float32 `json:"score"`
	Similarity   float32 `json:"similarity"`
	KeywordScore float32 `json:"keywordScore"`
	Content      string  `json:"content"`
	DocumentID   string  `json:"documentId"`
	Title        string  `json:"title,omitempty"`
	ChunkIndex   int     `json:"chunkIndex"`
}

// Options overrides the retrieval parameters per call. Nil fields fall back
// to the stored settings, then to the configured defaults.
type Options struct {
	TopK  *int
	Widen *int
	Alpha *float32
}

// Defaults are the fallback parameters when neither options nor settings
// provide a value.
type Defaults struct {
	TopK  int
	Widen int
	Alpha float32
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	embedder Embedder
	store    vector.Store
	settings *settings.Service
	logger   *QueryLogger
	defaults Defaults
}

func NewService(e Embedder, store vector.Store, set *settings.Service, l *QueryLogger, d Defaults) *Service {
	return &Service{embedder: e, store: store, settings: set, logger: l, defaults: d}
}

// HybridSearch runs a widened semantic search and re-ranks the candidates
// by lexical overlap with the query. Pure vector search under-ranks literal
// matches (policy numbers, acronyms); pure keyword search misses
// paraphrase. Fusing both keeps the expensive vector search bounded while
// letting exact terms resurface.
func (s *Service) HybridSearch(ctx context.Context, query string, opts *Options) ([]RetrievedChunk, error) {
	start := time.Now()
	var results []RetrievedChunk
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			s.logger.Log(QueryLogEntry{
				Query:      query,
				NumResults: len(results),
				Duration:   time.Since(start),
			})
		}
	}()

	topK, widen, alpha := s.resolveParams(ctx, opts)

	// 1. Embed query
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// 2. Make sure the collection matches this embedding's dimension
	if err = s.store.EnsureCollection(ctx, len(vec)); err != nil {
		return nil, err
	}

	// 3. Widened semantic search: a larger candidate pool than the final
	// result size gives the lexical re-ranking material to work with.
	limit := topK
	if widen > limit {
		limit = widen
	}
	hits, err := s.store.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	// 4. Re-score by keyword overlap and fuse
	queryTokens := Tokenize(query)
	candidates := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		kw := keywordScore(queryTokens, Tokenize(h.Content))
		candidates = append(candidates, RetrievedChunk{
			ID:           h.ID,
			Score:        fuse(h.Similarity, kw, alpha),
			Similarity:   h.Similarity,
			KeywordScore: kw,
			Content:      h.Content,
			DocumentID:   h.DocumentID,
			Title:        h.Title,
			ChunkIndex:   h.ChunkIndex,
		})
	}

	// 5. Stable sort keeps vector-search order for equal fused scores
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results = candidates
	return results, nil
}

func (s *Service) resolveParams(ctx context.Context, opts *Options) (topK, widen int, alpha float32) {
	topK = s.defaults.TopK
	widen = s.defaults.Widen
	alpha = s.defaults.Alpha

	if s.settings != nil {
		if cfg, err := s.settings.Get(ctx); err == nil && cfg != nil {
			if cfg.SearchTopK > 0 {
				topK = cfg.SearchTopK
			}
			if cfg.SearchWiden > 0 {
				widen = cfg.SearchWiden
			}
			if cfg.SearchAlpha >= 0 && cfg.SearchAlpha <= 1 {
				alpha = cfg.SearchAlpha
			}
		}
	}

	if opts != nil {
		if opts.TopK != nil {
			topK = *opts.TopK
		}
		if opts.Widen != nil {
			widen = *opts.Widen
		}
		if opts.Alpha != nil {
			alpha = *opts.Alpha
		}
	}
	return topK, widen, alpha
}

// Tokenize lowercases text, strips everything that is not a Unicode letter
// or digit, and splits on whitespace. Empty tokens are dropped.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Fields(cleaned)
}

// keywordScore is the fraction of distinct query tokens present in the
// candidate's token set, clamped to [0,1]. Zero when either set is empty.
func keywordScore(queryTokens, candidateTokens []string) float32 {
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return 0
	}

	candidateSet := make(map[string]struct{}, len(candidateTokens))
	for _, tok := range candidateTokens {
		candidateSet[tok] = struct{}{}
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	matched := 0
	for _, tok := range queryTokens {
		if _, seen := querySet[tok]; seen {
			continue
		}
		querySet[tok] = struct{}{}
		if _, ok := candidateSet[tok]; ok {
			matched++
		}
	}

	score := float32(matched) / float32(len(querySet))
	if score > 1 {
		score = 1
	}
	return score
}

// fuse combines the two signals: alpha weighs semantic similarity, the
// remainder weighs lexical overlap.
func fuse(similarity, keyword, alpha float32) float32 {
	return alpha*similarity + (1-alpha)*keyword
}
