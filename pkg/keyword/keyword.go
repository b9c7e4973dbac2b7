// Package keyword maintains an in-memory BM25 index per collection.
// The SQL store is the source of truth; the index is rebuilt from it
// at startup and kept in sync by the ingestion pipeline.
package keyword

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/strata-ai/strata/pkg/store"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Result is a scored chunk match.
type Result struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Score      float64
}

type indexedChunk struct {
	chunkID    string
	documentID string
	chunkIndex int
	terms      map[string]int
	length     int
}

type collectionIndex struct {
	chunks      map[string]*indexedChunk
	docFreq     map[string]int
	totalLength int
}

func newCollectionIndex() *collectionIndex {
	return &collectionIndex{
		chunks:  make(map[string]*indexedChunk),
		docFreq: make(map[string]int),
	}
}

// Index holds the per-collection BM25 indexes.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collectionIndex
}

func NewIndex() *Index {
	return &Index{collections: make(map[string]*collectionIndex)}
}

// Rebuild repopulates the whole index from the store. Called once at
// startup before the server accepts traffic.
func (idx *Index) Rebuild(ctx context.Context, st *store.Store) error {
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
		idx.IndexChunks(collectionID, chunks)
		total += len(chunks)
	}

	slog.Info("Rebuilt keyword index",
		"collections", len(collectionIDs),
		"chunks", total)
	return nil
}

// IndexChunks adds chunks to a collection's index. Re-adding a chunk
// ID replaces the previous entry.
func (idx *Index) IndexChunks(collectionID string, chunks []*store.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	col, ok := idx.collections[collectionID]
	if !ok {
		col = newCollectionIndex()
		idx.collections[collectionID] = col
	}

	for _, chunk := range chunks {
		if old, ok := col.chunks[chunk.ID]; ok {
			col.remove(old)
		}

		terms := make(map[string]int)
		tokens := tokenize(chunk.Content)
		for _, tok := range tokens {
			terms[tok]++
		}

		entry := &indexedChunk{
			chunkID:    chunk.ID,
			documentID: chunk.DocumentID,
			chunkIndex: chunk.ChunkIndex,
			terms:      terms,
			length:     len(tokens),
		}
		col.chunks[chunk.ID] = entry
		col.totalLength += entry.length
		for term := range terms {
			col.docFreq[term]++
		}
	}
}

// RemoveDocument evicts every chunk of a document from the index.
func (idx *Index) RemoveDocument(collectionID, documentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	col, ok := idx.collections[collectionID]
	if !ok {
		return
	}
	for id, entry := range col.chunks {
		if entry.documentID == documentID {
			col.remove(entry)
			delete(col.chunks, id)
		}
	}
}

// RemoveCollection drops a collection's index entirely.
func (idx *Index) RemoveCollection(collectionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.collections, collectionID)
}

func (c *collectionIndex) remove(entry *indexedChunk) {
	c.totalLength -= entry.length
	for term := range entry.terms {
		if c.docFreq[term] <= 1 {
			delete(c.docFreq, term)
		} else {
			c.docFreq[term]--
		}
	}
}

// Search scores every chunk in the collection against the query with
// BM25 and returns the topK matches. Ties break by chunk index, then
// document ID, for stable ordering.
func (idx *Index) Search(collectionID, query string, topK int) []Result {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	col, ok := idx.collections[collectionID]
	if !ok || len(col.chunks) == 0 {
		return nil
	}

	n := float64(len(col.chunks))
	avgLength := float64(col.totalLength) / n

	var results []Result
	for _, entry := range col.chunks {
		score := 0.0
		for _, term := range queryTerms {
			tf := float64(entry.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(col.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(entry.length)/avgLength))
			score += idf * norm
		}
		if score > 0 {
			results = append(results, Result{
				ChunkID:    entry.chunkID,
				DocumentID: entry.documentID,
				ChunkIndex: entry.chunkIndex,
				Score:      score,
			})
		}
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

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "will": {}, "with": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
