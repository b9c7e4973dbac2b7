// Package synonym expands query terms from a line-based dictionary,
// with an optional WordNet-format file backend. Lookups go through an
// LRU cache since the same vocabulary repeats across queries.
package synonym

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/strata-ai/strata/pkg/config"
)

// Service resolves synonyms for single words and expands whole
// queries.
type Service struct {
	dict        map[string][]string
	cache       *lru.Cache[string, []string]
	maxSynonyms int
}

func NewService(cfg *config.SynonymConfig) (*Service, error) {
	cache, err := lru.New[string, []string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create synonym cache: %w", err)
	}

	s := &Service{
		dict:        make(map[string][]string),
		cache:       cache,
		maxSynonyms: cfg.MaxSynonyms,
	}

	if cfg.DictionaryPath != "" {
		if err := s.loadDictionary(cfg.DictionaryPath); err != nil {
			return nil, err
		}
	}
	if cfg.WordNetPath != "" {
		if err := s.loadWordNet(cfg.WordNetPath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// loadDictionary reads `word: a, b` or `word a b` lines. Lines
// starting with # are comments.
func (s *Service) loadDictionary(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var word string
		var rest string
		if idx := strings.Index(line, ":"); idx >= 0 {
			word = strings.TrimSpace(line[:idx])
			rest = line[idx+1:]
		} else {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			word = fields[0]
			rest = strings.Join(fields[1:], " ")
		}

		var synonyms []string
		for _, part := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ' ' }) {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				synonyms = append(synonyms, part)
			}
		}
		if word != "" && len(synonyms) > 0 {
			s.addSynonyms(strings.ToLower(word), synonyms)
		}
	}
	return scanner.Err()
}

// loadWordNet reads WordNet-style synset lines: words on one line
// belong to the same synset, separated by spaces after the synset
// metadata columns. The simplified format accepted here is one synset
// per line, words separated by spaces, underscores for multiword
// terms.
func (s *Service) loadWordNet(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open wordnet file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words := strings.Fields(line)
		if len(words) < 2 {
			continue
		}
		for i := range words {
			words[i] = strings.ToLower(strings.ReplaceAll(words[i], "_", " "))
		}
		for i, word := range words {
			others := make([]string, 0, len(words)-1)
			others = append(others, words[:i]...)
			others = append(others, words[i+1:]...)
			s.addSynonyms(word, others)
		}
	}
	return scanner.Err()
}

func (s *Service) addSynonyms(word string, synonyms []string) {
	existing := s.dict[word]
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e] = struct{}{}
	}
	for _, syn := range synonyms {
		if syn == word {
			continue
		}
		if _, ok := seen[syn]; ok {
			continue
		}
		seen[syn] = struct{}{}
		existing = append(existing, syn)
	}
	s.dict[word] = existing
}

// Synonyms returns sorted synonyms for a word, at most MaxSynonyms.
func (s *Service) Synonyms(word string) []string {
	key := strings.ToLower(word)
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}

	synonyms := append([]string(nil), s.dict[key]...)
	sort.Strings(synonyms)
	if len(synonyms) > s.maxSynonyms {
		synonyms = synonyms[:s.maxSynonyms]
	}
	s.cache.Add(key, synonyms)
	return synonyms
}

var queryStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "what": {}, "how": {},
	"who": {}, "why": {}, "when": {}, "where": {}, "does": {}, "did": {},
	"about": {}, "from": {}, "this": {}, "that": {}, "are": {}, "was": {},
}

// ExpandQuery appends up to maxExpansions synonyms to the query. Stop
// words and words shorter than 3 runes are not expanded.
func (s *Service) ExpandQuery(query string, maxExpansions int) string {
	if maxExpansions <= 0 {
		return query
	}

	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var additions []string
	seen := make(map[string]struct{})
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}

	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 3 {
			continue
		}
		if _, stop := queryStopwords[lower]; stop {
			continue
		}
		for _, syn := range s.Synonyms(lower) {
			if _, ok := seen[syn]; ok {
				continue
			}
			seen[syn] = struct{}{}
			additions = append(additions, syn)
			if len(additions) >= maxExpansions {
				break
			}
		}
		if len(additions) >= maxExpansions {
			break
		}
	}

	if len(additions) == 0 {
		return query
	}
	return query + " " + strings.Join(additions, " ")
}
