package profile

import (
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates how many completion tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter counts with the cl100k_base encoding.
type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a cl100k_base counter, or the approximate counter
// when the encoding cannot be loaded.
func NewTokenCounter() TokenCounter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("tokenizer_unavailable_using_estimate")
		return ApproxCounter{}
	}
	return &tiktokenCounter{codec: codec}
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return ApproxCounter{}.Count(text)
	}
	return len(ids)
}

// ApproxCounter estimates one token per four bytes.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (len(text) + 3) / 4
}
