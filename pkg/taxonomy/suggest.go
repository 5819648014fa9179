package taxonomy

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

// MaxSuggestionsPerTask caps corpus-derived suggestions per task.
const MaxSuggestionsPerTask = 12

// Suggestions is the staged alias suggestions artifact.
type Suggestions struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Heuristic   map[string][]string `json:"heuristic"`
	Corpus      map[string][]string `json:"corpus"`
}

// All returns heuristic and corpus suggestions merged per task key.
func (s Suggestions) All() map[string][]string {
	out := make(map[string][]string, len(s.Heuristic))
	for k, v := range s.Heuristic {
		out[k] = unionOrdered(out[k], v)
	}
	for k, v := range s.Corpus {
		out[k] = unionOrdered(out[k], v)
	}
	return out
}

// Suggest builds alias suggestions for every task. Heuristic variants come
// from the key alone; corpus suggestions are the most frequent tokens among
// items already classified into the task. Nothing already matched by the
// task's live aliases is suggested.
func Suggest(tax *Taxonomy, aliases AliasMap, items []catalog.Item, assignments map[string][]string, now time.Time) Suggestions {
	texts := make(map[string][]string)
	for _, it := range items {
		text := suggestionText(it)
		for _, key := range assignments[it.ID] {
			texts[key] = append(texts[key], text)
		}
	}

	s := Suggestions{
		GeneratedAt: now.UTC(),
		Heuristic:   make(map[string][]string),
		Corpus:      make(map[string][]string),
	}
	for _, task := range tax.Tasks() {
		key := strings.ToLower(task.Key)
		existing := make(map[string]bool)
		for _, a := range unionOrdered(unionOrdered(task.Aliases, aliases.For(key)), Synonyms[task.Key]) {
			existing[a] = true
		}

		var heur []string
		for _, a := range HeuristicAliases(task.Key) {
			if !existing[a] {
				heur = append(heur, a)
			}
		}
		if len(heur) > 0 {
			s.Heuristic[key] = heur
		}

		if corpus := topTokens(texts[task.Key], key, existing); len(corpus) > 0 {
			s.Corpus[key] = corpus
		}
	}
	return s
}

func suggestionText(it catalog.Item) string {
	parts := []string{it.Name}
	if i := strings.LastIndexByte(it.ID, '/'); i >= 0 {
		parts = append(parts, it.ID[i+1:])
	}
	tags := it.Tags
	if len(tags) > 6 {
		tags = tags[:6]
	}
	parts = append(parts, tags...)
	parts = append(parts, it.Summary)
	return strings.Join(parts, " ")
}

func topTokens(texts []string, key string, existing map[string]bool) []string {
	freq := make(map[string]int)
	for _, t := range texts {
		for _, tok := range suggestionTokens(t) {
			freq[tok]++
		}
	}

	type tokCount struct {
		tok string
		n   int
	}
	ranked := make([]tokCount, 0, len(freq))
	for tok, n := range freq {
		ranked = append(ranked, tokCount{tok, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].tok < ranked[j].tok
	})

	var out []string
	for _, r := range ranked {
		if len(out) == MaxSuggestionsPerTask {
			break
		}
		if r.tok == key || existing[r.tok] {
			continue
		}
		out = append(out, r.tok)
	}
	return out
}

// suggestionTokens lowercases text and splits it into Latin alphanumeric or
// CJK tokens, dropping single characters and pure numbers.
func suggestionTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || unicode.Is(unicode.Han, r))
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || isNumber(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
