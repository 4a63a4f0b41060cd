// Package classifier turns trade-signal text into a structured intent and
// decides which lifecycle operation (OPEN, ADD, EXIT) it describes.
package classifier

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"gopkg.in/yaml.v3"
)

// Vocabulary holds the keyword lists the rules match against. Keywords made
// only of ASCII are matched on word boundaries; anything else (CJK) is matched
// as a substring.
type Vocabulary struct {
	Add   []string `yaml:"add"`
	Exit  []string `yaml:"exit"`
	Long  []string `yaml:"long"`
	Short []string `yaml:"short"`
}

// DefaultVocabulary returns the built-in keyword lists.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Add:   []string{"补仓", "加仓", "加注", "add", "add position"},
		Exit:  []string{"平仓", "离场", "出局", "了结", "close", "exit"},
		Long:  []string{"做多", "看多", "long"},
		Short: []string{"做空", "看空", "short"},
	}
}

// Merge appends extra's keywords to v, skipping duplicates.
func (v Vocabulary) Merge(extra Vocabulary) Vocabulary {
	return Vocabulary{
		Add:   appendUnique(v.Add, extra.Add),
		Exit:  appendUnique(v.Exit, extra.Exit),
		Long:  appendUnique(v.Long, extra.Long),
		Short: appendUnique(v.Short, extra.Short),
	}
}

func appendUnique(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, w := range list {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// LoadVocabulary reads a YAML vocabulary file and merges it over the
// built-in lists. An empty path returns the defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("classifier: read vocabulary %s: %w", path, err)
	}
	var extra Vocabulary
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return v, fmt.Errorf("classifier: parse vocabulary %s: %w", path, err)
	}
	return v.Merge(extra), nil
}

// Rule is one entry of the ordered classification list. Match is a pure
// predicate over normalized text.
type Rule struct {
	Name  string
	Op    domain.Operation
	Match func(text string) bool
}

// keywords matches any of a set of words against normalized text.
type keywords struct {
	re   *regexp.Regexp
	subs []string
}

func newKeywords(words []string) keywords {
	var ascii []string
	var k keywords
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if isASCII(w) {
			ascii = append(ascii, regexp.QuoteMeta(w))
		} else {
			k.subs = append(k.subs, w)
		}
	}
	if len(ascii) > 0 {
		// Longest first so "add position" wins over "add" in the alternation.
		sort.Slice(ascii, func(i, j int) bool { return len(ascii[i]) > len(ascii[j]) })
		k.re = regexp.MustCompile(`\b(?:` + strings.Join(ascii, "|") + `)\b`)
	}
	return k
}

func (k keywords) match(text string) bool {
	for _, s := range k.subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return k.re != nil && k.re.MatchString(text)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// normalize lower-cases and trims text before rule evaluation.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Classifier holds the ordered rule list and the extraction settings.
type Classifier struct {
	rules        []Rule
	long         keywords
	short        keywords
	buy          keywords
	sell         keywords
	defaultQuote string
}

// New builds a Classifier from a vocabulary. defaultQuote is appended to bare
// base-asset symbols ("BTC" becomes "BTCUSDT").
func New(v Vocabulary, defaultQuote string) *Classifier {
	if defaultQuote == "" {
		defaultQuote = "USDT"
	}
	add := newKeywords(v.Add)
	exit := newKeywords(v.Exit)
	return &Classifier{
		rules: []Rule{
			{Name: "add", Op: domain.OperationAdd, Match: add.match},
			{Name: "exit", Op: domain.OperationExit, Match: exit.match},
		},
		long:         newKeywords(v.Long),
		short:        newKeywords(v.Short),
		buy:          newKeywords([]string{"买入", "buy"}),
		sell:         newKeywords([]string{"卖出", "sell"}),
		defaultQuote: strings.ToUpper(defaultQuote),
	}
}

// Rules returns the classification rules in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify returns the operation of the first matching rule, or OPEN.
func (c *Classifier) Classify(text string) domain.Operation {
	norm := normalize(text)
	for _, r := range c.rules {
		if r.Match(norm) {
			return r.Op
		}
	}
	return domain.OperationOpen
}

// Resolve picks the operation for an intent: an explicit valid Operation
// wins, otherwise the hint and raw text are classified.
func (c *Classifier) Resolve(intent domain.TradeIntent) domain.Operation {
	if intent.Operation.Valid() {
		return intent.Operation
	}
	if intent.OperationHint != "" {
		return c.Classify(intent.OperationHint)
	}
	return c.Classify(intent.RawText)
}

var std = New(DefaultVocabulary(), "USDT")

// Classify runs the built-in rule list over text.
func Classify(text string) domain.Operation { return std.Classify(text) }

// Parse extracts an intent from text with the built-in vocabulary.
func Parse(text string) domain.TradeIntent { return std.Parse(text) }
