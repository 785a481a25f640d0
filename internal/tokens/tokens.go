// Package tokens counts prompt tokens for billing and call records.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in a text for a given model.
type Counter interface {
	Count(model, text string) (int, error)
	SupportsModel(model string) bool
}

// Registry routes counting to the first counter that supports the model and
// falls back to character-based estimation otherwise.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken counter registered and an
// estimator fallback.
func NewRegistry() *Registry {
	return &Registry{
		counters: []Counter{NewTiktokenCounter()},
		fallback: NewEstimator(),
	}
}

// Count returns the token count for the text. Counting never fails: if the
// model's counter errors the estimator answers instead.
func (r *Registry) Count(model, text string) int {
	for _, counter := range r.counters {
		if !counter.SupportsModel(model) {
			continue
		}
		if n, err := counter.Count(model, text); err == nil {
			return n
		}
		break
	}
	n, _ := r.fallback.Count(model, text)
	return n
}

// CountPrompt counts the tokens of a two-message chat prompt (system plus
// user), including the per-message framing overhead chat models add.
func (r *Registry) CountPrompt(model, systemPrompt, userPrompt string) int {
	// 3 tokens per message plus 1 for the role, plus 3 for assistant priming.
	const perMessage = 4
	const priming = 3

	total := priming
	if systemPrompt != "" {
		total += perMessage + r.Count(model, systemPrompt)
	}
	total += perMessage + r.Count(model, userPrompt)
	return total
}

// Estimator approximates token counts from character length. It serves as
// the fallback for models without a real tokenizer.
type Estimator struct {
	CharsPerToken float64
}

// NewEstimator creates an estimator with the usual 4-characters-per-token
// approximation.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) Count(model, text string) (int, error) {
	return int(float64(len(text)) / e.CharsPerToken), nil
}

func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// TiktokenCounter counts tokens with the tiktoken BPE vocabularies.
type TiktokenCounter struct {
	prefixes []string

	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewTiktokenCounter creates a counter covering the OpenAI model families.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		prefixes: []string{"gpt-", "o1", "o3", "o4"},
		codecs:   make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *TiktokenCounter) SupportsModel(model string) bool {
	model = strings.ToLower(model)
	for _, p := range c.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func (c *TiktokenCounter) Count(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("failed to encode text: %w", err)
	}
	return len(ids), nil
}

// getCodec resolves the codec for a model, first by name and then by the
// encoding family the model belongs to. Codecs are cached per encoding.
func (c *TiktokenCounter) getCodec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return codec, nil
	}

	encoding := modelEncoding(model)

	c.mu.RLock()
	if cached, ok := c.codecs[encoding]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.mu.Lock()
	c.codecs[encoding] = codec
	c.mu.Unlock()

	return codec, nil
}

// modelEncoding maps a model family to its BPE encoding: o200k_base for
// gpt-4o/gpt-4.1/gpt-5 and the o-series, cl100k_base for gpt-4 and gpt-3.5.
// Unknown models get o200k_base, the likeliest choice for anything new.
func modelEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
