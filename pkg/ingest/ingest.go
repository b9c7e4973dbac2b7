// Package ingest runs the document processing pipeline: accept an
// upload, dedupe it, store the raw bytes, then parse, enrich, chunk,
// embed, and index asynchronously. The document row in the store is
// the single source of truth for pipeline state.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/strata-ai/strata/pkg/blob"
	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/chunker"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/contenttype"
	"github.com/strata-ai/strata/pkg/domain"
	"github.com/strata-ai/strata/pkg/embedder"
	"github.com/strata-ai/strata/pkg/graph"
	"github.com/strata-ai/strata/pkg/keyword"
	"github.com/strata-ai/strata/pkg/parser"
	"github.com/strata-ai/strata/pkg/store"
	"github.com/strata-ai/strata/pkg/summary"
	"github.com/strata-ai/strata/pkg/vectordb"
)

// retrievalCachePrefix matches the key namespace retrieval uses, so
// any index mutation invalidates cached search responses.
const retrievalCachePrefix = "retrieval:"

// Pipeline stage names recorded on the document while processing.
const (
	StageParsing     = "parsing"
	StageDescribing  = "describing_images"
	StageEnriching   = "enriching"
	StageChunking    = "chunking"
	StageEmbedding   = "embedding"
	StageIndexing    = "indexing"
	StageSummarizing = "summarizing"
)

// Deps collects the pipeline components the coordinator drives.
type Deps struct {
	Store     *store.Store
	Blobs     *blob.Store
	Parsers   *parser.Factory
	Domains   *domain.Factory
	Chunker   *chunker.Chunker
	Embedder  *embedder.Embedder
	Vectors   vectordb.Provider
	Keywords  *keyword.Index
	Graph     *graph.Graph
	Summaries *summary.Service
	Cache     *cache.Cache
	Vision    parser.VisionPort
}

// Coordinator owns the ingestion worker pool and every write path that
// touches the chunk, keyword, graph, and summary indexes.
type Coordinator struct {
	cfg  *config.IngestionConfig
	deps Deps

	group errgroup.Group

	// mu guards locks; each collection gets its own mutex so index
	// writes for one collection never interleave.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg *config.IngestionConfig, deps Deps) *Coordinator {
	c := &Coordinator{
		cfg:   cfg,
		deps:  deps,
		locks: make(map[string]*sync.Mutex),
	}
	c.group.SetLimit(cfg.Workers)
	return c
}

// Close waits for in-flight documents to finish processing.
func (c *Coordinator) Close() error {
	return c.group.Wait()
}

// SubmitRequest is one upload.
type SubmitRequest struct {
	UserID       string
	CollectionID string
	Filename     string
	Title        string
	// ContentType is the client-declared MIME type; it is the weakest
	// resolution signal and may be empty.
	ContentType string
	Metadata    map[string]interface{}
	Content     []byte
	// UniqueIdentifier is an optional source locator (e.g. a URL) that
	// dedupes re-submissions even when the fetched bytes drift.
	UniqueIdentifier string
}

// Submit registers a document and dispatches it to the worker pool.
// When the user already has a document with the same content (or the
// same unique identifier), the existing document is returned with
// created=false and nothing is dispatched.
func (c *Coordinator) Submit(ctx context.Context, req *SubmitRequest) (*store.Document, bool, error) {
	if len(req.Content) == 0 {
		return nil, false, fmt.Errorf("empty document content")
	}
	if _, err := c.deps.Store.GetCollection(ctx, req.UserID, req.CollectionID); err != nil {
		return nil, false, err
	}

	resolved := req.ContentType
	if resolved != parser.WebTranscript {
		resolved = contenttype.Resolve(req.Filename, sniffPrefix(req.Content), req.ContentType)
		if resolved == contenttype.Octet {
			return nil, false, fmt.Errorf("unsupported content type for %q", req.Filename)
		}
	}

	sum := sha256.Sum256(req.Content)
	doc := &store.Document{
		CollectionID: req.CollectionID,
		UserID:       req.UserID,
		Title:        req.Title,
		Filename:     req.Filename,
		ContentType:  resolved,
		SizeBytes:    int64(len(req.Content)),
		ContentHash:  hex.EncodeToString(sum[:]),
		Metadata:     store.JSONMap(req.Metadata),
	}
	if req.UniqueIdentifier != "" {
		uidSum := sha256.Sum256([]byte(req.UniqueIdentifier))
		doc.UniqueIdentifierHash = hex.EncodeToString(uidSum[:])
	}

	doc, created, err := c.deps.Store.CreateDocument(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	if !created {
		slog.Info("Duplicate submission, returning existing document",
			"document_id", doc.ID, "status", doc.Status)
		// A resubmission still refreshes caller metadata on the existing
		// document; chunks are not rebuilt.
		if len(req.Metadata) > 0 {
			doc, err = c.deps.Store.UpdateDocument(ctx, req.UserID, doc.ID, store.DocumentPatch{
				Metadata: mergeMetadata(doc.Metadata, req.Metadata),
			})
			if err != nil {
				return nil, false, err
			}
		}
		return doc, false, nil
	}

	// Persist the raw bytes before dispatch; retries re-read them from
	// here rather than asking the client to re-upload.
	blobName := req.Filename
	if blobName == "" {
		blobName = "source"
	}
	key, err := c.deps.Blobs.Put(doc.ID, blobName, bytes.NewReader(req.Content))
	if err != nil {
		if ferr := c.deps.Store.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to store content: %v", err)); ferr != nil {
			slog.Error("Failed to mark document failed", "document_id", doc.ID, "error", ferr)
		}
		return nil, false, fmt.Errorf("failed to store document content: %w", err)
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = store.JSONMap{}
	}
	metadata["blob_key"] = key
	doc, err = c.deps.Store.UpdateDocument(ctx, req.UserID, doc.ID, store.DocumentPatch{Metadata: metadata})
	if err != nil {
		return nil, false, err
	}

	if err := c.deps.Store.RecountDocuments(ctx, req.CollectionID); err != nil {
		slog.Warn("Failed to recount documents", "collection_id", req.CollectionID, "error", err)
	}

	c.dispatch(doc)
	return doc, true, nil
}

// SubmitURL ingests a remote source by locator. The transcript parser
// fetches the content during processing; the stored bytes are the URL
// itself so retries re-fetch.
func (c *Coordinator) SubmitURL(ctx context.Context, userID, collectionID, sourceURL string, metadata map[string]interface{}) (*store.Document, bool, error) {
	return c.Submit(ctx, &SubmitRequest{
		UserID:           userID,
		CollectionID:     collectionID,
		ContentType:      parser.WebTranscript,
		Metadata:         metadata,
		Content:          []byte(sourceURL),
		UniqueIdentifier: sourceURL,
	})
}

// RetryDocument resets a failed document to pending and re-dispatches
// it. Only failed documents may be retried.
func (c *Coordinator) RetryDocument(ctx context.Context, userID, id string) error {
	if err := c.deps.Store.ResetForRetry(ctx, userID, id); err != nil {
		return err
	}
	doc, err := c.deps.Store.GetDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	c.dispatch(doc)
	return nil
}

// DeleteDocument removes a document and all derived state: chunks,
// vectors, keyword and graph postings, summary, and the stored bytes.
func (c *Coordinator) DeleteDocument(ctx context.Context, userID, id string) error {
	doc, err := c.deps.Store.GetDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := c.deps.Store.DeleteDocument(ctx, userID, id); err != nil {
		return err
	}
	c.removeDerived(ctx, doc)
	if c.deps.Summaries != nil {
		c.deps.Summaries.Delete(ctx, doc.ID, doc.CollectionID)
	}
	if err := c.deps.Blobs.Delete(doc.ID); err != nil {
		slog.Warn("Failed to delete stored content", "document_id", doc.ID, "error", err)
	}
	c.deps.Cache.DeleteByPrefix(ctx, retrievalCachePrefix)
	return nil
}

// DeleteCollection removes a collection and every index built over it.
func (c *Coordinator) DeleteCollection(ctx context.Context, userID, id string) error {
	// Blob cleanup needs every document, not just the first page.
	var docs []*store.Document
	page := store.Page{Limit: 100}
	for {
		batch, _, err := c.deps.Store.ListDocuments(ctx, userID, store.DocumentFilter{CollectionID: id}, page)
		if err != nil {
			return err
		}
		docs = append(docs, batch...)
		if len(batch) < page.Limit {
			break
		}
		page.Offset += page.Limit
	}
	if err := c.deps.Store.DeleteCollection(ctx, userID, id); err != nil {
		return err
	}

	if err := c.deps.Vectors.DeleteCollection(ctx, vectordb.ChunkCollection(id)); err != nil {
		slog.Warn("Failed to drop chunk vectors", "collection_id", id, "error", err)
	}
	if err := c.deps.Vectors.DeleteCollection(ctx, vectordb.SummaryCollection(id)); err != nil {
		slog.Warn("Failed to drop summary vectors", "collection_id", id, "error", err)
	}
	c.deps.Keywords.RemoveCollection(id)
	if c.deps.Graph != nil {
		c.deps.Graph.RemoveCollection(id)
	}
	for _, d := range docs {
		if err := c.deps.Blobs.Delete(d.ID); err != nil {
			slog.Warn("Failed to delete stored content", "document_id", d.ID, "error", err)
		}
	}
	c.deps.Cache.DeleteByPrefix(ctx, retrievalCachePrefix)
	return nil
}

func (c *Coordinator) dispatch(doc *store.Document) {
	c.group.Go(func() error {
		// Worker errors land on the document row, never on the group.
		c.process(context.Background(), doc)
		return nil
	})
}

func (c *Coordinator) process(ctx context.Context, doc *store.Document) {
	claimed, err := c.deps.Store.ClaimForProcessing(ctx, doc.ID)
	if err != nil {
		slog.Error("Failed to claim document", "document_id", doc.ID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("Document already claimed", "document_id", doc.ID)
		return
	}

	if err := c.runPipeline(ctx, doc); err != nil {
		slog.Warn("Document processing failed",
			"document_id", doc.ID, "collection_id", doc.CollectionID, "error", err)
		c.removeDerived(ctx, doc)
		if ferr := c.deps.Store.MarkFailed(ctx, doc.ID, err.Error()); ferr != nil {
			slog.Error("Failed to mark document failed", "document_id", doc.ID, "error", ferr)
		}
		return
	}
	c.deps.Cache.DeleteByPrefix(ctx, retrievalCachePrefix)
}

func (c *Coordinator) runPipeline(ctx context.Context, doc *store.Document) error {
	source, err := c.sourcePath(doc)
	if err != nil {
		return err
	}

	info := store.ProcessingInfo{Stage: StageParsing}
	c.setStage(ctx, doc.ID, info)

	parsed, err := c.deps.Parsers.Parse(ctx, doc.ContentType, source)
	if err != nil {
		return err
	}
	if p, perr := c.deps.Parsers.ForContentType(doc.ContentType); perr == nil {
		info.ExtractionMethod = p.Name()
	}

	content := parsed.Content
	metadata := mergeMetadata(doc.Metadata, parsed.Metadata)

	if c.deps.Vision != nil && len(parsed.Images) > 0 {
		info.Stage = StageDescribing
		c.setStage(ctx, doc.ID, info)
		content += describeImages(ctx, c.deps.Vision, parsed.Images)
	}

	var annotations []chunker.Annotation
	if *c.cfg.EnableDomainProcessors && c.deps.Domains != nil {
		info.Stage = StageEnriching
		c.setStage(ctx, doc.ID, info)
		enriched, derr := c.deps.Domains.Process(ctx, content, metadata, doc.Filename)
		if derr != nil {
			slog.Warn("Domain enrichment failed, using raw content",
				"document_id", doc.ID, "error", derr)
		} else {
			content = enriched.Content
			metadata = mergeMetadata(metadata, enriched.DocumentMetadata)
			annotations = enriched.Annotations
			info.Processor = enriched.Processor
		}
	}

	info.Stage = StageChunking
	c.setStage(ctx, doc.ID, info)
	pieces := c.deps.Chunker.Chunk(content, annotations)
	if len(pieces) == 0 {
		return fmt.Errorf("document produced no chunks")
	}

	info.Stage = StageEmbedding
	info.ChunkCount = len(pieces)
	c.setStage(ctx, doc.ID, info)
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := c.deps.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	chunks := make([]*store.Chunk, len(pieces))
	points := make([]vectordb.Point, len(pieces))
	totalTokens := 0
	for i, p := range pieces {
		id := uuid.NewString()
		chunks[i] = &store.Chunk{
			ID:           id,
			DocumentID:   doc.ID,
			CollectionID: doc.CollectionID,
			ChunkIndex:   p.ChunkIndex,
			Content:      p.Content,
			TokenCount:   p.Tokens,
			Metadata:     metadata,
		}
		points[i] = vectordb.Point{
			ID:       id,
			Vector:   vectors[i],
			Metadata: pointMetadata(doc.ID, p.ChunkIndex, metadata),
		}
		totalTokens += p.Tokens
	}
	info.TotalTokens = totalTokens

	info.Stage = StageIndexing
	c.setStage(ctx, doc.ID, info)

	// One writer per collection keeps the store, vector, keyword, and
	// graph indexes mutually consistent.
	unlock := c.lockCollection(doc.CollectionID)
	err = func() error {
		defer unlock()
		if err := c.deps.Store.InsertChunks(ctx, doc.ID, doc.CollectionID, chunks); err != nil {
			return err
		}
		collection := vectordb.ChunkCollection(doc.CollectionID)
		if err := c.deps.Vectors.EnsureCollection(ctx, collection, c.deps.Embedder.Dimension()); err != nil {
			return err
		}
		if err := c.deps.Vectors.Upsert(ctx, collection, points); err != nil {
			return err
		}
		c.deps.Keywords.IndexChunks(doc.CollectionID, chunks)
		if *c.cfg.EnableGraph && c.deps.Graph != nil {
			c.deps.Graph.IndexChunks(doc.CollectionID, chunks)
		}
		return nil
	}()
	if err != nil {
		return err
	}

	if *c.cfg.EnableSummaries && c.deps.Summaries != nil {
		info.Stage = StageSummarizing
		c.setStage(ctx, doc.ID, info)
		if serr := c.deps.Summaries.Generate(ctx, doc.ID, doc.CollectionID, content); serr != nil {
			// Hierarchical retrieval degrades to semantic without it.
			slog.Warn("Summary generation failed",
				"document_id", doc.ID, "error", serr)
		}
	}

	info.Stage = "completed"
	title := doc.Title
	if title == "" {
		title = deriveTitle(metadata, doc.Filename)
	}
	if err := c.deps.Store.MarkCompleted(ctx, doc.ID, info, metadata, title); err != nil {
		return err
	}
	slog.Info("Document processed",
		"document_id", doc.ID,
		"collection_id", doc.CollectionID,
		"chunks", info.ChunkCount,
		"tokens", info.TotalTokens)
	return nil
}

// sourcePath resolves what the parser receives: a filesystem path for
// stored uploads, or the original URL for web transcript sources.
func (c *Coordinator) sourcePath(doc *store.Document) (string, error) {
	key, _ := doc.Metadata["blob_key"].(string)
	if key == "" {
		return "", fmt.Errorf("document has no stored content")
	}
	if doc.ContentType == parser.WebTranscript {
		rc, err := c.deps.Blobs.Open(key)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return c.deps.Blobs.Path(key)
}

// removeDerived deletes everything the pipeline built for a document.
// Called before marking failed so a failed document never leaves
// partial chunks behind.
func (c *Coordinator) removeDerived(ctx context.Context, doc *store.Document) {
	if err := c.deps.Store.DeleteChunksForDocument(ctx, doc.ID); err != nil {
		slog.Warn("Failed to delete chunks", "document_id", doc.ID, "error", err)
	}
	if err := c.deps.Vectors.DeleteByFilter(ctx,
		vectordb.ChunkCollection(doc.CollectionID),
		map[string]interface{}{"document_id": doc.ID}); err != nil {
		slog.Warn("Failed to delete chunk vectors", "document_id", doc.ID, "error", err)
	}
	c.deps.Keywords.RemoveDocument(doc.CollectionID, doc.ID)
	if c.deps.Graph != nil {
		c.deps.Graph.RemoveDocument(doc.CollectionID, doc.ID)
	}
}

func (c *Coordinator) setStage(ctx context.Context, id string, info store.ProcessingInfo) {
	if err := c.deps.Store.SetProcessingStage(ctx, id, info); err != nil {
		slog.Warn("Failed to record processing stage",
			"document_id", id, "stage", info.Stage, "error", err)
	}
}

func (c *Coordinator) lockCollection(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func sniffPrefix(content []byte) []byte {
	if len(content) > 512 {
		return content[:512]
	}
	return content
}

func mergeMetadata(base store.JSONMap, extra map[string]interface{}) store.JSONMap {
	merged := store.JSONMap{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// pointMetadata is the vector payload: the document linkage retrieval
// hydrates by, plus flat scalar metadata usable as an equality filter.
func pointMetadata(documentID string, chunkIndex int, metadata store.JSONMap) map[string]interface{} {
	payload := map[string]interface{}{
		"document_id": documentID,
		"chunk_index": chunkIndex,
	}
	for k, v := range metadata {
		if k == "blob_key" {
			continue
		}
		switch v.(type) {
		case string, bool, int, int64, float32, float64:
			payload[k] = v
		}
	}
	return payload
}

func deriveTitle(metadata store.JSONMap, filename string) string {
	if t, ok := metadata["title"].(string); ok && t != "" {
		return t
	}
	if filename != "" {
		return filename
	}
	return "Untitled document"
}

func describeImages(ctx context.Context, vision parser.VisionPort, images []parser.Image) string {
	var sb strings.Builder
	for _, img := range images {
		desc, err := vision.Describe(ctx, img.Bytes, img.Format)
		if err != nil {
			slog.Warn("Image description failed",
				"page", img.Page, "index", img.Index, "error", err)
			continue
		}
		if desc == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n[Image, page %d: %s]", img.Page, desc)
	}
	return sb.String()
}
