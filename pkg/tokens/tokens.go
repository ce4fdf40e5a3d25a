// Package tokens provides token estimation and token-bounded chunking for
// tool outputs and conversation content.
package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the fallback character-to-token ratio used when no
// tiktoken encoding is available for the model (Anthropic and Gemini models
// tokenize at roughly 3.5 characters per token).
const CharsPerToken = 3.5

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Estimator estimates token counts for a specific model and splits text into
// token-bounded chunks. A nil encoding means the ratio fallback is in use.
type Estimator struct {
	model    string
	encoding *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for the given model. Models without a
// tiktoken encoding fall back to cl100k_base; if even that is unavailable
// (offline BPE data), the estimator degrades to the character ratio.
func NewEstimator(model string) *Estimator {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &Estimator{model: model, encoding: cached}
	}

	if useRatioFallback(model) {
		return &Estimator{model: model}
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &Estimator{model: model}
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Estimator{model: model, encoding: encoding}
}

// useRatioFallback reports whether the model family has no tiktoken encoding.
func useRatioFallback(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "claude") || strings.Contains(lower, "gemini")
}

// Model returns the model name this estimator is configured for.
func (e *Estimator) Model() string {
	return e.model
}

// Estimate returns the estimated token count of text.
func (e *Estimator) Estimate(text string) int {
	if e == nil || e.encoding == nil {
		return int(float64(len(text)) / CharsPerToken)
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// EstimateValue serializes a JSON-serializable value with compact separators
// and estimates the resulting string. Strings are estimated directly.
func (e *Estimator) EstimateValue(value any) (int, error) {
	switch v := value.(type) {
	case string:
		return e.Estimate(v), nil
	case nil:
		return 0, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("value is not JSON-serializable: %w", err)
		}
		return e.Estimate(string(raw)), nil
	}
}

// Chunk splits text into chunks of at most maxTokens estimated tokens.
//
// Splitting happens on line boundaries: lines accumulate into the current
// chunk until adding the next line would exceed the budget. A single line
// that alone exceeds the budget is split at punctuation boundaries, with a
// hard character split (maxTokens * 4 chars) as the last resort.
//
// Concatenating the chunks reconstructs the input up to the newlines that
// served as split points; every chunk estimates at or below maxTokens except
// for degenerate single-token overruns.
func (e *Estimator) Chunk(text string, maxTokens int) []string {
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if e.Estimate(line) >= maxTokens {
			// Oversize line: flush what we have and split the line itself.
			flush()
			chunks = append(chunks, e.splitLongLine(line, maxTokens)...)
			continue
		}

		// Estimate the joined candidate so the separators count against
		// the budget too.
		if current.Len() > 0 && e.Estimate(current.String()+"\n"+line) > maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()

	return chunks
}

// splitLongLine splits a single line that exceeds the token budget. It
// prefers a punctuation boundary within the last 100 characters before the
// character limit, falling back to a hard character split.
func (e *Estimator) splitLongLine(line string, maxTokens int) []string {
	charLimit := maxTokens * 4

	var pieces []string
	remaining := []rune(line)
	for len(remaining) > 0 {
		if len(remaining) <= charLimit {
			pieces = append(pieces, string(remaining))
			break
		}

		splitPoint := charLimit
		lookback := charLimit - 100
		if lookback < 0 {
			lookback = 0
		}
		for i := charLimit - 1; i >= lookback; i-- {
			if isPunctuationBoundary(remaining[i]) {
				splitPoint = i + 1
				break
			}
		}

		pieces = append(pieces, string(remaining[:splitPoint]))
		remaining = remaining[splitPoint:]
	}
	return pieces
}

func isPunctuationBoundary(r rune) bool {
	switch r {
	case ',', '.', ';', '!', '?':
		return true
	}
	return false
}
