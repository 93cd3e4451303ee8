// Package generate implements the generation fallback: when no cached line
// qualifies, the language model is asked for a fresh in-character reply.
//
// A single call is made per request. Failures are not retried here; the
// configured [llm.Provider] may itself be a fallback chain, but once it gives
// up the request has no further recourse.
package generate

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/parrot/internal/persona"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/provider/llm"
)

// Defaults applied by [New].
const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.9
	DefaultTimeout     = 20 * time.Second
)

var errEmptyReply = errors.New("model returned an empty reply")

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithMaxTokens caps the completion length. Default: 150.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTemperature sets the sampling temperature. Default: 0.9.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxRunes bounds the returned text. Default: [dialogue.MaxDialogueRunes].
func WithMaxRunes(n int) Option {
	return func(g *Generator) { g.maxRunes = n }
}

// WithTimeout bounds a single model call. Zero disables the bound.
// Default: 20s.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// Generator produces dialogue lines with an [llm.Provider]. It is safe for
// concurrent use.
type Generator struct {
	llm         llm.Provider
	personas    *persona.Table
	maxTokens   int
	temperature float64
	maxRunes    int
	timeout     time.Duration
}

// New returns a Generator that speaks through provider using the prompts in
// personas.
func New(provider llm.Provider, personas *persona.Table, opts ...Option) *Generator {
	g := &Generator{
		llm:         provider,
		personas:    personas,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		maxRunes:    dialogue.MaxDialogueRunes,
		timeout:     DefaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate asks the model for character's reply to userMessage. The result is
// trimmed and bounded to the configured rune limit. Any failure, including an
// empty reply, is a [dialogue.ErrGeneration].
func (g *Generator) Generate(ctx context.Context, character, userMessage string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	maxTokens := g.maxTokens
	if limit := g.llm.Capabilities().MaxOutputTokens; limit > 0 && maxTokens > limit {
		maxTokens = limit
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: g.personas.Prompt(character),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userMessage}},
		Temperature:  g.temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", dialogue.Wrap(dialogue.ErrGeneration, "generate", err)
	}

	text := Truncate(strings.TrimSpace(resp.Content), g.maxRunes)
	if text == "" {
		return "", dialogue.Wrap(dialogue.ErrGeneration, "generate", errEmptyReply)
	}
	return text, nil
}

// Truncate shortens s to at most n runes. When a cut is needed it backs up to
// the last whitespace in the second half of the allowed span so words are not
// split; otherwise it cuts hard at n. Trailing whitespace is removed.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)[:n]
	cut := n
	for i := n - 1; i >= n/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}
