package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/singleflight"
)

// Static embedder weights.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// programmingStopWords are common language keywords filtered before hashing.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Static generates embeddings with feature hashing over identifier tokens
// and character n-grams. No network, no model files; deterministic for a
// given dimension, so retried batches produce identical vectors.
type Static struct {
	dims int

	// Initialization is lazy and single-flight: the first caller performs
	// it, concurrent callers share the same result.
	initGroup singleflight.Group
	initOnce  bool

	mu     sync.RWMutex
	closed bool
}

// NewStatic creates a static embedder producing unit vectors of dims.
func NewStatic(dims int) *Static {
	if dims <= 0 {
		dims = CodeDimensions
	}
	return &Static{dims: dims}
}

// ensureInit performs one-time initialization. The static embedder has no
// model to load, but the guard keeps the contract uniform with embedders
// that do, and exercises the shared-init path under concurrency.
func (e *Static) ensureInit(ctx context.Context) error {
	e.mu.RLock()
	if e.initOnce {
		e.mu.RUnlock()
		return nil
	}
	e.mu.RUnlock()

	_, err, _ := e.initGroup.Do("init", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.initOnce = true
		e.mu.Unlock()
		return nil, nil
	})
	return err
}

// Embed generates the embedding for a single text.
func (e *Static) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if err := e.ensureInit(ctx); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (e *Static) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *Static) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *Static) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Close releases resources.
func (e *Static) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// generateVector accumulates token and n-gram features into a raw vector.
func (e *Static) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
	}
	return vector
}

// tokenize splits text into lowercase tokens, splitting camelCase and
// snake_case identifiers.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Split on lower->Upper and at acronym tails (HTTPServer).
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	filtered := tokens[:0]
	for _, t := range tokens {
		if !programmingStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
