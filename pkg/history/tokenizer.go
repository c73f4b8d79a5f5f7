// Copyright 2024-2026 Aiku AI

// Package history keeps the per-peer rolling conversation window that
// is sent to the completion backend, trimmed to a token budget.
package history

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer measures text in model tokens. Implementations must be safe
// for concurrent use: a single instance is shared by every conversation
// in the process because the underlying BPE tables are expensive.
type Tokenizer interface {
	// Count returns the token cost of the given text.
	Count(text string) int
	// Truncate cuts the text down to at most budget tokens.
	Truncate(text string, budget int) string
}

const fallbackEncoding = "cl100k_base"

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer builds a Tokenizer for the given model name. Models
// without a known tiktoken encoding fall back to cl100k_base, and if
// even that cannot be loaded a rune-based heuristic is used so that
// budget trimming keeps working offline.
func NewTokenizer(model string) Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		return heuristicTokenizer{}
	}
	return &bpeTokenizer{enc: enc}
}

func (t *bpeTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *bpeTokenizer) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= budget {
		return text
	}
	return t.enc.Decode(ids[:budget])
}

// heuristicTokenizer approximates one token per four runes, the usual
// rule of thumb for English text.
type heuristicTokenizer struct{}

func (heuristicTokenizer) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func (heuristicTokenizer) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= budget*4 {
		return text
	}
	return string(runes[:budget*4])
}
