// Package persona resolves the system prompt that makes the language model
// speak as a given character.
//
// A [Table] holds one prompt per character, keyed by the normalised character
// name. Characters without an entry get the default template with their name
// interpolated. The table ships with built-in prompts for Iron Man and the
// Joker; entries from configuration are layered on top and can be swapped at
// runtime with [Table.Replace] when the config file changes.
package persona

import (
	"strings"
	"sync"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// DefaultKey is the character name whose entry replaces the default template.
const DefaultKey = "_default"

// NamePlaceholder is substituted with the character's display name in the
// default template.
const NamePlaceholder = "{CHARACTER_NAME}"

const defaultTemplate = `You are {CHARACTER_NAME}.
- Maintain a consistent personality and speech pattern
- Use vocabulary and references fitting the character
- Show emotion and react naturally
Keep responses concise and engaging.`

var builtin = map[string]string{
	"iron man": `You are Tony Stark (Iron Man). Respond in a witty, sarcastic manner:
- Use modern tech references and plenty of snark
- Be confident, even arrogant, but ultimately caring
- Make quips and clever comebacks
- Reference your wealth, genius and achievements casually
Keep responses concise and witty.`,
	"joker": `You are the Joker. Respond with these characteristics:
- Mix humor with darkness
- Be unpredictable but keep an internal logic
- Laugh often (written as "HAHA" or "hehehe")
- Use dark jokes and playful threats
Keep responses unpredictable and entertaining.`,
}

// Persona is a configured character prompt.
type Persona struct {
	// Name is the character name as users address it. Matching is
	// case-insensitive.
	Name string

	// Personality is the full system prompt for the character. For the
	// DefaultKey entry it may contain NamePlaceholder.
	Personality string
}

// Table maps characters to system prompts. It is safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	prompts  map[string]string
	fallback string
}

// NewTable returns a table with the built-in prompts overlaid by personas.
func NewTable(personas ...Persona) *Table {
	t := &Table{}
	t.Replace(personas)
	return t
}

// Replace atomically swaps the configured personas. Built-in prompts are kept
// unless personas override them.
func (t *Table) Replace(personas []Persona) {
	prompts := make(map[string]string, len(builtin)+len(personas))
	for k, v := range builtin {
		prompts[k] = v
	}
	fallback := defaultTemplate
	for _, p := range personas {
		text := strings.TrimSpace(p.Personality)
		if text == "" {
			continue
		}
		if strings.TrimSpace(p.Name) == DefaultKey {
			fallback = text
			continue
		}
		prompts[dialogue.NormalizeCharacter(p.Name)] = text
	}

	t.mu.Lock()
	t.prompts = prompts
	t.fallback = fallback
	t.mu.Unlock()
}

// Prompt returns the system prompt for character.
func (t *Table) Prompt(character string) string {
	key := dialogue.NormalizeCharacter(character)

	t.mu.RLock()
	p, ok := t.prompts[key]
	fallback := t.fallback
	t.mu.RUnlock()

	if ok {
		return p
	}
	return strings.ReplaceAll(fallback, NamePlaceholder, displayName(character))
}

// Has reports whether character has a dedicated prompt.
func (t *Table) Has(character string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.prompts[dialogue.NormalizeCharacter(character)]
	return ok
}

// Len returns the number of dedicated prompts.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prompts)
}

func displayName(character string) string {
	return strings.Join(strings.Fields(character), " ")
}
