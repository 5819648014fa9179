package taxonomy

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

type matcher struct {
	key     string
	keyNorm string
	tokens  []string
	latin   []*regexp.Regexp
	cjk     []string
}

// Classifier maps catalog items to task keys. It is immutable after
// construction and holds precompiled alias patterns.
type Classifier struct {
	matchers []matcher
}

// NewClassifier compiles the alias patterns for every task.
func NewClassifier(tax *Taxonomy, aliases AliasMap) *Classifier {
	c := &Classifier{matchers: make([]matcher, 0, tax.Len())}
	for _, task := range tax.Tasks() {
		m := matcher{
			key:     task.Key,
			keyNorm: normalizeKey(task.Key),
		}
		for _, tok := range splitKey(task.Key) {
			if len([]rune(tok)) >= 3 {
				m.tokens = append(m.tokens, tok)
			}
		}
		for _, alias := range AliasesFor(task, aliases) {
			if !containsLatin(alias) {
				m.cjk = append(m.cjk, alias)
				continue
			}
			if !usableLatin(alias) {
				continue
			}
			m.latin = append(m.latin, boundaryPattern(alias))
		}
		c.matchers = append(c.matchers, m)
	}
	return c
}

// AliasesFor returns every alias candidate considered for a task: taxonomy
// aliases, curated aliases, built-in synonyms, heuristic variants and
// label-derived strings.
func AliasesFor(task Task, aliases AliasMap) []string {
	out := unionOrdered(nil, task.Aliases)
	out = unionOrdered(out, aliases.For(task.Key))
	out = unionOrdered(out, Synonyms[task.Key])
	out = unionOrdered(out, HeuristicAliases(task.Key))
	return unionOrdered(out, LabelAliases(task))
}

// Classify returns the sorted task keys that match the item. An empty
// result means the item is not eligible for any bucket.
func (c *Classifier) Classify(it catalog.Item) []string {
	id := strings.ToLower(it.ID)
	tags := make([]string, 0, len(it.Tags))
	for _, t := range it.Tags {
		tags = append(tags, strings.ToLower(strings.TrimSpace(t)))
	}
	text := strings.Join([]string{id, strings.ToLower(it.Name), strings.ToLower(it.Summary), strings.Join(tags, " ")}, " ")
	words := wordSet(text)

	var keys []string
	for _, m := range c.matchers {
		if m.matches(id, tags, text, words) {
			keys = append(keys, m.key)
		}
	}
	sort.Strings(keys)
	return keys
}

// ClassifyAll returns item id to task keys for every item with at least one key.
func (c *Classifier) ClassifyAll(items []catalog.Item) map[string][]string {
	out := make(map[string][]string, len(items))
	for _, it := range items {
		if keys := c.Classify(it); len(keys) > 0 {
			out[it.ID] = keys
		}
	}
	return out
}

// Classify is the one-shot form of Classifier.Classify.
func Classify(it catalog.Item, tax *Taxonomy, aliases AliasMap) []string {
	return NewClassifier(tax, aliases).Classify(it)
}

func (m matcher) matches(id string, tags []string, text string, words map[string]bool) bool {
	keyLower := strings.ToLower(m.key)
	for _, t := range tags {
		if t == keyLower || normalizeKey(t) == m.keyNorm {
			return true
		}
	}
	if strings.Contains(id, keyLower) {
		return true
	}

	for _, tok := range m.tokens {
		if words[tok] {
			return true
		}
	}

	for _, re := range m.latin {
		if re.MatchString(text) {
			return true
		}
	}
	for _, s := range m.cjk {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func normalizeKey(s string) string {
	return strings.Join(splitKey(s), "_")
}

func wordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}

func containsLatin(s string) bool {
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// usableLatin drops Latin aliases shorter than four alphanumerics unless
// they are a known abbreviation.
func usableLatin(alias string) bool {
	n := 0
	for _, r := range alias {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			n++
		}
	}
	return n >= 4 || AllowedShorts[strings.ToUpper(alias)]
}

func boundaryPattern(alias string) *regexp.Regexp {
	q := regexp.QuoteMeta(alias)
	if isWordByte(alias[0]) {
		q = `\b` + q
	}
	if isWordByte(alias[len(alias)-1]) {
		q += `\b`
	}
	return regexp.MustCompile(q)
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
