// Package guide turns discussion guides into an ordered list of themed
// questions. Guides arrive either pre-structured (an array of
// {theme, question}) or as free text, in which case section headers,
// bullets and numbered items are recognised heuristically.
package guide

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

// DefaultMinQuestionLength is the rune count at or below which a candidate
// question is dropped.
const DefaultMinQuestionLength = 10

// DefaultBoilerplate lists case-insensitive substrings marking moderator
// housekeeping rather than research questions.
var DefaultBoilerplate = []string{
	"consent",
	"gdpr",
	"recording",
	"recorded",
	"introduction",
	"agenda",
	"confidential",
	"privacy",
	"thank you for",
	"housekeeping",
	"moderator note",
	"interviewer note",
	"time check",
	"wrap-up",
	"wrap up",
}

var (
	headerRe   = regexp.MustCompile(`(?i)^([A-Z]\.|[0-9]+\.|[IVX]+\.)\s*(.+)$`)
	bulletRe   = regexp.MustCompile(`^[*\-•]\s*(.+)$`)
	numberedRe = regexp.MustCompile(`^\d+[.)\s]\s*(.+)$`)
)

// Options configures question filtering on the text path.
type Options struct {
	Boilerplate       []string
	MinQuestionLength int
}

// DefaultOptions returns the stock boilerplate list and length cutoff.
func DefaultOptions() Options {
	return Options{
		Boilerplate:       append([]string(nil), DefaultBoilerplate...),
		MinQuestionLength: DefaultMinQuestionLength,
	}
}

// Parser parses guides with a fixed set of options.
type Parser struct {
	opts        Options
	boilerplate []string
}

// NewParser creates a Parser. A zero MinQuestionLength falls back to the default;
// a nil Boilerplate list uses DefaultBoilerplate.
func NewParser(opts Options) *Parser {
	if opts.MinQuestionLength <= 0 {
		opts.MinQuestionLength = DefaultMinQuestionLength
	}
	if opts.Boilerplate == nil {
		opts.Boilerplate = DefaultBoilerplate
	}
	lower := make([]string, 0, len(opts.Boilerplate))
	for _, k := range opts.Boilerplate {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &Parser{opts: opts, boilerplate: lower}
}

var defaultParser = NewParser(DefaultOptions())

// Parse parses a guide with the default options.
func Parse(guide any) ([]domain.GuideQuestion, error) { return defaultParser.Parse(guide) }

// ParseText parses a free-text guide with the default options.
func ParseText(text string) []domain.GuideQuestion { return defaultParser.ParseText(text) }

// ParseJSON decodes a JSON string or array and parses it with the default options.
func ParseJSON(raw []byte) ([]domain.GuideQuestion, error) { return defaultParser.ParseJSON(raw) }

// ParseJSON decodes a JSON guide (a string or an array of objects) and parses it.
func (p *Parser) ParseJSON(raw []byte) ([]domain.GuideQuestion, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidGuide, err)
	}
	return p.Parse(v)
}

// Parse dispatches on the guide's shape. Strings take the heuristic text path;
// arrays of question objects pass through with missing themes defaulted.
func (p *Parser) Parse(guide any) ([]domain.GuideQuestion, error) {
	switch g := guide.(type) {
	case string:
		return p.ParseText(g), nil
	case []domain.GuideQuestion:
		return passThrough(len(g), func(i int) (domain.GuideQuestion, bool) { return g[i], true })
	case []map[string]any:
		return passThrough(len(g), func(i int) (domain.GuideQuestion, bool) { return fromMap(g[i]) })
	case []map[string]string:
		return passThrough(len(g), func(i int) (domain.GuideQuestion, bool) {
			return domain.GuideQuestion{Theme: g[i]["theme"], Question: g[i]["question"]}, true
		})
	case []any:
		return passThrough(len(g), func(i int) (domain.GuideQuestion, bool) {
			m, ok := g[i].(map[string]any)
			if !ok {
				return domain.GuideQuestion{}, false
			}
			return fromMap(m)
		})
	default:
		return nil, domain.NewValidationError("guide", fmt.Sprintf("%T", guide), domain.ErrInvalidGuide)
	}
}

func fromMap(m map[string]any) (domain.GuideQuestion, bool) {
	q, ok := m["question"].(string)
	if !ok {
		return domain.GuideQuestion{}, false
	}
	theme, _ := m["theme"].(string)
	return domain.GuideQuestion{Theme: theme, Question: q}, true
}

func passThrough(n int, at func(int) (domain.GuideQuestion, bool)) ([]domain.GuideQuestion, error) {
	out := make([]domain.GuideQuestion, 0, n)
	for i := 0; i < n; i++ {
		q, ok := at(i)
		if !ok || strings.TrimSpace(q.Question) == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("guide[%d].question", i), q.Question, domain.ErrInvalidGuide)
		}
		if strings.TrimSpace(q.Theme) == "" {
			q.Theme = domain.DefaultTheme
		}
		out = append(out, q)
	}
	return out, nil
}

// ParseText runs the line-oriented heuristic over a free-text guide. Text
// without recognisable structure yields an empty slice.
func (p *Parser) ParseText(text string) []domain.GuideQuestion {
	out := []domain.GuideQuestion{}
	currentTheme := domain.DefaultTheme

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := headerRe.FindStringSubmatch(line); m != nil {
			currentTheme = strings.TrimSpace(m[2])
			continue
		}

		var candidate string
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			candidate = m[1]
		} else if m := numberedRe.FindStringSubmatch(line); m != nil {
			candidate = m[1]
		} else {
			continue
		}

		candidate = strings.TrimSpace(candidate)
		if p.isBoilerplate(candidate) || utf8.RuneCountInString(candidate) <= p.opts.MinQuestionLength {
			continue
		}
		out = append(out, domain.GuideQuestion{Theme: currentTheme, Question: candidate})
	}
	return out
}

func (p *Parser) isBoilerplate(s string) bool {
	lower := strings.ToLower(s)
	for _, k := range p.boilerplate {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
