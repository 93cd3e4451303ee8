// Package scrape extracts a character's lines from screenplay pages to seed
// the lexical store.
//
// Screenplay pages carry the script in a td.scrtext cell. A line that holds
// nothing but the character's name (optionally followed by a parenthetical
// such as "(V.O.)") is a speaker cue, and the line right after it is taken as
// the character's dialogue. Scraped records have no user message and no
// embedding, so they are reachable only through lexical lookup.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// Defaults applied by [New].
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "parrot-scraper/1.0"

	// maxBodyBytes bounds a fetched page.
	maxBodyBytes = 10 << 20
)

// Option is a functional option for configuring a [Scraper].
type Option func(*Scraper)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scraper) { s.client = c }
}

// WithUserAgent sets the User-Agent header sent with every fetch.
func WithUserAgent(ua string) Option {
	return func(s *Scraper) { s.userAgent = ua }
}

// Scraper fetches screenplay pages. It is safe for concurrent use.
type Scraper struct {
	client    *http.Client
	userAgent string
}

// New returns a Scraper.
func New(opts ...Option) *Scraper {
	s := &Scraper{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scrape fetches url and returns the lines spoken by character.
func (s *Scraper) Scrape(ctx context.Context, character, url string) ([]dialogue.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	recs, err := ExtractDialogues(character, io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("scrape: %s: %w", url, err)
	}
	return recs, nil
}

// ExtractDialogues parses an HTML screenplay page and returns character's
// lines as records without a user message.
func ExtractDialogues(character string, r io.Reader) ([]dialogue.Record, error) {
	cue := dialogue.NormalizeCharacter(character)
	if cue == "" {
		return nil, fmt.Errorf("extract: character is required")
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}

	var sb strings.Builder
	for _, cell := range findAll(doc, isScriptCell) {
		appendText(&sb, cell)
	}
	lines := strings.Split(sb.String(), "\n")

	var recs []dialogue.Record
	for i := 0; i+1 < len(lines); i++ {
		if !isCue(lines[i], cue) {
			continue
		}
		text := cleanText(lines[i+1])
		if !isValidDialogue(text) {
			continue
		}
		rec, err := dialogue.NewRecord(character, "", text, nil)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func isScriptCell(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "td" {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == "scrtext" {
					return true
				}
			}
		}
	}
	return false
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// appendText writes the text content of n. Script and style bodies are
// skipped; <br> becomes a newline.
func appendText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style":
			return
		case "br":
			sb.WriteByte('\n')
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(sb, c)
	}
}

// isCue reports whether line names the speaker cue, ignoring case, spacing,
// and a trailing parenthetical extension.
func isCue(line, cue string) bool {
	name := strings.TrimSpace(line)
	if i := strings.IndexByte(name, '('); i > 0 && strings.HasSuffix(name, ")") {
		name = name[:i]
	}
	return dialogue.NormalizeCharacter(name) == cue
}

// cleanText decodes leftover entities and collapses all whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// isValidDialogue accepts 1..499 runes with at least one letter or digit.
func isValidDialogue(s string) bool {
	n := utf8.RuneCountInString(s)
	if n == 0 || n >= dialogue.MaxDialogueRunes {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
	}) >= 0
}
