// Package tokens measures how many tokens the filter adds to a request.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with tiktoken, picking the encoding from the
// model name. Codecs are cached by encoding.
type Counter struct {
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *Counter) getCodec(model string) (tokenizer.Codec, error) {
	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding maps model names to encodings.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O1, O3, O4-mini and newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo
// Everything else, including non-OpenAI models, is counted with O200kBase
// as an approximation.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// CountText counts tokens in text for the given model.
func (c *Counter) CountText(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Overhead returns the number of tokens after minus the tokens before,
// i.e. what a rewrite added to a message.
func (c *Counter) Overhead(model, before, after string) (int, error) {
	b, err := c.CountText(model, before)
	if err != nil {
		return 0, err
	}
	a, err := c.CountText(model, after)
	if err != nil {
		return 0, err
	}
	return a - b, nil
}
