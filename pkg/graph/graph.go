// Package graph maintains a lightweight entity co-occurrence graph
// per collection. Entities are extracted at ingestion time from chunk
// text; retrieval uses them to re-score chunks that share entities
// with the query.
package graph

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/strata-ai/strata/pkg/store"
)

// Entity is a node with its connected chunks.
type Entity struct {
	Name   string
	Chunks []string
}

// ChunkScore is a chunk re-scored by entity overlap with a query.
type ChunkScore struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Score      float64
}

type chunkNode struct {
	documentID string
	chunkIndex int
	entities   map[string]struct{}
}

type collectionGraph struct {
	// entity name -> chunk IDs containing it
	entities map[string]map[string]struct{}
	chunks   map[string]*chunkNode
}

func newCollectionGraph() *collectionGraph {
	return &collectionGraph{
		entities: make(map[string]map[string]struct{}),
		chunks:   make(map[string]*chunkNode),
	}
}

// Graph is the in-process graph index, mirroring the keyword index's
// lifecycle: rebuilt from the store at startup, updated by ingestion.
type Graph struct {
	mu          sync.RWMutex
	collections map[string]*collectionGraph
}

func New() *Graph {
	return &Graph{collections: make(map[string]*collectionGraph)}
}

// Rebuild repopulates the whole graph from the store. Called once at
// startup before the server accepts traffic.
func (g *Graph) Rebuild(ctx context.Context, st *store.Store) error {
	collectionIDs, err := st.ListCollectionIDs(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, collectionID := range collectionIDs {
		chunks, err := st.ListChunksByCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		g.IndexChunks(collectionID, chunks)
		total += len(chunks)
	}

	slog.Info("Rebuilt entity graph",
		"collections", len(collectionIDs),
		"chunks", total)
	return nil
}

// IndexChunks extracts entities from each chunk and links them.
func (g *Graph) IndexChunks(collectionID string, chunks []*store.Chunk) {
	g.mu.Lock()
	defer g.mu.Unlock()

	col, ok := g.collections[collectionID]
	if !ok {
		col = newCollectionGraph()
		g.collections[collectionID] = col
	}

	for _, chunk := range chunks {
		if old, ok := col.chunks[chunk.ID]; ok {
			col.unlink(chunk.ID, old)
		}

		entities := ExtractEntities(chunk.Content)
		node := &chunkNode{
			documentID: chunk.DocumentID,
			chunkIndex: chunk.ChunkIndex,
			entities:   make(map[string]struct{}, len(entities)),
		}
		for _, e := range entities {
			node.entities[e] = struct{}{}
			if col.entities[e] == nil {
				col.entities[e] = make(map[string]struct{})
			}
			col.entities[e][chunk.ID] = struct{}{}
		}
		col.chunks[chunk.ID] = node
	}
}

// RemoveDocument unlinks every chunk of a document.
func (g *Graph) RemoveDocument(collectionID, documentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	col, ok := g.collections[collectionID]
	if !ok {
		return
	}
	for id, node := range col.chunks {
		if node.documentID == documentID {
			col.unlink(id, node)
			delete(col.chunks, id)
		}
	}
}

// RemoveCollection drops a collection's graph.
func (g *Graph) RemoveCollection(collectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.collections, collectionID)
}

func (c *collectionGraph) unlink(chunkID string, node *chunkNode) {
	for e := range node.entities {
		delete(c.entities[e], chunkID)
		if len(c.entities[e]) == 0 {
			delete(c.entities, e)
		}
	}
}

// Score returns chunks connected to the query's entities, scored by
// the fraction of query entities each chunk contains.
func (g *Graph) Score(collectionID, query string, topK int) []ChunkScore {
	queryEntities := ExtractEntities(query)
	if len(queryEntities) == 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	col, ok := g.collections[collectionID]
	if !ok {
		return nil
	}

	hits := make(map[string]int)
	for _, e := range queryEntities {
		for chunkID := range col.entities[e] {
			hits[chunkID]++
		}
	}

	results := make([]ChunkScore, 0, len(hits))
	for chunkID, count := range hits {
		node := col.chunks[chunkID]
		if node == nil {
			continue
		}
		results = append(results, ChunkScore{
			ChunkID:    chunkID,
			DocumentID: node.documentID,
			ChunkIndex: node.chunkIndex,
			Score:      float64(count) / float64(len(queryEntities)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Entities returns the entities of one chunk, sorted.
func (g *Graph) Entities(collectionID, chunkID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	col, ok := g.collections[collectionID]
	if !ok {
		return nil
	}
	node, ok := col.chunks[chunkID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(node.entities))
	for e := range node.entities {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// capitalizedPattern matches multi-word proper-noun runs like
// "New York" or "Acme Corp".
var capitalizedPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:\s+[A-Z][a-zA-Z0-9]+)*\b`)

// sentenceStarters are capitalized only by position, not because they
// name anything.
var sentenceStarters = map[string]struct{}{
	"the": {}, "this": {}, "that": {}, "these": {}, "those": {}, "it": {},
	"a": {}, "an": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"he": {}, "she": {}, "they": {}, "we": {}, "you": {}, "i": {},
	"what": {}, "when": {}, "where": {}, "who": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "if": {}, "as": {},
	"there": {}, "here": {}, "but": {}, "and": {}, "or": {}, "not": {},
	"after": {}, "before": {}, "during": {}, "while": {}, "however": {},
}

// ExtractEntities pulls candidate entities out of text: runs of
// capitalized words, minus single words that are common sentence
// starters. Names are normalized to lowercase.
func ExtractEntities(text string) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, match := range capitalizedPattern.FindAllString(text, -1) {
		name := strings.ToLower(strings.Join(strings.Fields(match), " "))
		if !strings.Contains(name, " ") {
			if _, skip := sentenceStarters[name]; skip {
				continue
			}
			if len(name) < 3 {
				continue
			}
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	// Lowercase queries never hit the capitalization pass, so longer
	// terms count as entity candidates too ("qdrant", "kubernetes").
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(f) < 6 {
			continue
		}
		if _, skip := sentenceStarters[f]; skip {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	return out
}
