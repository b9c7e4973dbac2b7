package server

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strata-ai/strata/pkg/auth"
	"github.com/strata-ai/strata/pkg/blob"
	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/chat"
	"github.com/strata-ai/strata/pkg/chunker"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/domain"
	"github.com/strata-ai/strata/pkg/embedder"
	"github.com/strata-ai/strata/pkg/graph"
	"github.com/strata-ai/strata/pkg/ingest"
	"github.com/strata-ai/strata/pkg/keyword"
	"github.com/strata-ai/strata/pkg/llm"
	"github.com/strata-ai/strata/pkg/observability"
	"github.com/strata-ai/strata/pkg/parser"
	"github.com/strata-ai/strata/pkg/ratelimit"
	"github.com/strata-ai/strata/pkg/retrieval"
	"github.com/strata-ai/strata/pkg/store"
	"github.com/strata-ai/strata/pkg/summary"
	"github.com/strata-ai/strata/pkg/vectordb"
)

type hashProvider struct{}

func (hashProvider) Dimension() int { return 8 }

func (p hashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p hashProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embed(t)
	}
	return out, nil
}

func (hashProvider) embed(text string) []float32 {
	v := make([]float32, 8)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range w {
			h = h*31 + int(r)
		}
		v[((h%8)+8)%8]++
	}
	return v
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, documentText string) (string, error) {
	return "A short summary.", nil
}

type fakeLLM struct{}

func (fakeLLM) Model() string { return "fake-model" }

func (fakeLLM) Generate(ctx context.Context, messages []llm.Message) (string, int, error) {
	return "[]", 0, nil
}

func (fakeLLM) GenerateStreaming(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 3)
	ch <- llm.StreamChunk{Type: "text", Text: "Answer "}
	ch <- llm.StreamChunk{Type: "text", Text: "text [1]."}
	ch <- llm.StreamChunk{Type: "done", Tokens: 4}
	close(ch)
	return ch, nil
}

type fixture struct {
	ts    *httptest.Server
	coord *ingest.Coordinator
}

func newFixture(t *testing.T, chatLimit int) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db, "sqlite")
	require.NoError(t, err)

	blobCfg := &config.BlobConfig{Dir: t.TempDir(), SigningSecret: "test-secret"}
	blobCfg.SetDefaults()
	blobs, err := blob.NewStore(blobCfg)
	require.NoError(t, err)

	speechCfg := &config.SpeechConfig{}
	speechCfg.SetDefaults()
	domainCfg := &config.DomainConfig{}
	domainCfg.SetDefaults()
	chunkCfg := &config.ChunkingConfig{}
	chunkCfg.SetDefaults()
	ch, err := chunker.New(chunkCfg)
	require.NoError(t, err)

	emb := embedder.NewWithProvider(&config.EmbedderProviderConfig{}, hashProvider{}, fakeSummarizer{})
	vectors := vectordb.NewMemoryProvider()
	keywords := keyword.NewIndex()
	g := graph.New()
	cacheCfg := &config.CacheConfig{}
	cacheCfg.SetDefaults()
	c := cache.New(cacheCfg)

	ingCfg := &config.IngestionConfig{Workers: 2}
	ingCfg.SetDefaults()
	coord := ingest.New(ingCfg, ingest.Deps{
		Store:     st,
		Blobs:     blobs,
		Parsers:   parser.NewFactory(speechCfg, nil, nil),
		Domains:   domain.NewFactory(domainCfg, nil),
		Chunker:   ch,
		Embedder:  emb,
		Vectors:   vectors,
		Keywords:  keywords,
		Graph:     g,
		Summaries: summary.NewService(st, emb, vectors),
		Cache:     c,
	})
	t.Cleanup(func() { coord.Close() })

	retCfg := &config.RetrievalConfig{}
	retCfg.SetDefaults()
	retCfg.CacheResults = config.BoolPtr(false)
	engine := retrieval.NewEngine(retCfg, st, vectors, keywords, g, emb, c)

	chatCfg := &config.ChatConfig{}
	chatCfg.SetDefaults()
	orchestrator := chat.New(chatCfg, st, engine, nil, nil, fakeLLM{}, ch)

	rlCfg := &config.RateLimitConfig{
		Rules: map[config.EndpointClass]config.RateLimitRule{
			config.EndpointChat: {PerMinute: chatLimit, Burst: chatLimit},
		},
	}
	rlCfg.SetDefaults()
	limiter, err := ratelimit.New(rlCfg)
	require.NoError(t, err)

	srvCfg := &config.ServerConfig{}
	srvCfg.SetDefaults()
	srv := New(srvCfg, Deps{
		Store:       st,
		Auth:        auth.NewService(st),
		Limiter:     limiter,
		Metrics:     observability.New(),
		Coordinator: coord,
		Engine:      engine,
		Chat:        orchestrator,
		Blobs:       blobs,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, coord: coord}
}

func (f *fixture) do(t *testing.T, method, path, apiKey string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func (f *fixture) register(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email":    "u@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	key, _ := body["api_key"].(string)
	require.NotEmpty(t, key)
	return key
}

func (f *fixture) createCollection(t *testing.T, key string) string {
	t.Helper()
	resp, body := f.do(t, "POST", "/api/collections", key, map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["collection_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *fixture) upload(t *testing.T, key, collectionID, filename, content string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("collection_id", collectionID))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", f.ts.URL+"/api/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	_ = json.Unmarshal(data, &decoded)
	return resp, decoded
}

const articleText = `Photosynthesis converts light energy into chemical energy.

Chlorophyll absorbs blue and red wavelengths.`

func TestRegisterAndAuth(t *testing.T) {
	f := newFixture(t, 10)

	key := f.register(t)
	assert.True(t, strings.HasPrefix(key, "sk-strata-"))

	// Duplicate email conflicts.
	resp, _ := f.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email": "u@example.com", "password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Weak password is a validation error.
	resp, _ = f.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email": "x@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Protected routes without a key.
	resp, _ = f.do(t, "GET", "/api/collections", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, "GET", "/api/collections", "sk-strata-bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCollectionLifecycle(t *testing.T) {
	f := newFixture(t, 10)
	key := f.register(t)

	id := f.createCollection(t, key)

	resp, body := f.do(t, "GET", "/api/collections/"+id, key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "docs", body["name"])

	resp, body = f.do(t, "PATCH", "/api/collections/"+id, key, map[string]string{"description": "updated"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updated", body["description"])

	resp, body = f.do(t, "GET", "/api/collections?limit=10", key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["pagination"].(map[string]interface{})["total"])

	resp, _ = f.do(t, "DELETE", "/api/collections/"+id, key, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, "GET", "/api/collections/"+id, key, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentUploadAndRetrieval(t *testing.T) {
	f := newFixture(t, 10)
	key := f.register(t)
	col := f.createCollection(t, key)

	resp, doc := f.upload(t, key, col, "plants.txt", articleText)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	docID, _ := doc["document_id"].(string)
	require.NotEmpty(t, docID)
	assert.Equal(t, "pending", doc["status"])

	// Same bytes return the existing document.
	resp, dup := f.upload(t, key, col, "renamed.txt", articleText)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, docID, dup["document_id"])

	require.NoError(t, f.coord.Close())

	resp, status := f.do(t, "GET", "/api/documents/"+docID+"/status", key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", status["status"])
	assert.Greater(t, status["chunk_count"].(float64), 0.0)

	resp, result := f.do(t, "POST", "/api/retrievals", key, map[string]interface{}{
		"query":         "chlorophyll wavelengths",
		"mode":          "hybrid",
		"collection_id": col,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := result["results"].([]interface{})
	require.NotEmpty(t, results)
	first := results[0].(map[string]interface{})
	assert.NotEmpty(t, first["chunk_id"])
	assert.NotEmpty(t, first["document"].(map[string]interface{})["id"])

	// Validation errors are 422.
	resp, _ = f.do(t, "POST", "/api/retrievals", key, map[string]interface{}{
		"query": "", "collection_id": col,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPresignedMediaURL(t *testing.T) {
	f := newFixture(t, 10)
	key := f.register(t)
	col := f.createCollection(t, key)

	_, doc := f.upload(t, key, col, "plants.txt", articleText)
	docID := doc["document_id"].(string)
	require.NoError(t, f.coord.Close())

	resp, body := f.do(t, "GET", "/api/documents/"+docID+"/url", key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	signed := body["url"].(string)

	// The presigned link works without an API key.
	mediaResp, err := http.Get(f.ts.URL + signed)
	require.NoError(t, err)
	data, _ := io.ReadAll(mediaResp.Body)
	mediaResp.Body.Close()
	assert.Equal(t, http.StatusOK, mediaResp.StatusCode)
	assert.Equal(t, articleText, string(data))

	// Tampering breaks the signature.
	tampered := strings.Replace(signed, "signature=", "signature=00", 1)
	mediaResp, err = http.Get(f.ts.URL + tampered)
	require.NoError(t, err)
	mediaResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, mediaResp.StatusCode)
}

func TestChatStreamSSE(t *testing.T) {
	f := newFixture(t, 10)
	key := f.register(t)
	col := f.createCollection(t, key)
	f.upload(t, key, col, "plants.txt", articleText)
	require.NoError(t, f.coord.Close())

	payload, _ := json.Marshal(map[string]interface{}{
		"message":       "What does photosynthesis convert?",
		"collection_id": col,
	})
	req, err := http.NewRequest("POST", f.ts.URL+"/api/chat", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line[len("data: "):]), &ev))
		evType := ev["type"].(string)
		types = append(types, evType)
		if evType == "delta" {
			text.WriteString(ev["content"].(string))
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "done", types[len(types)-1])
	assert.Equal(t, "Answer text [1].", text.String())
	assert.Contains(t, types, "sources")
	assert.Contains(t, types, "usage")
}

func TestChatNonStreaming(t *testing.T) {
	f := newFixture(t, 10)
	key := f.register(t)
	col := f.createCollection(t, key)
	f.upload(t, key, col, "plants.txt", articleText)
	require.NoError(t, f.coord.Close())

	resp, body := f.do(t, "POST", "/api/chat", key, map[string]interface{}{
		"message":       "What does photosynthesis convert?",
		"collection_id": col,
		"stream":        false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Answer text [1].", body["content"])
	sessionID := body["session_id"].(string)
	require.NotEmpty(t, sessionID)

	resp, msgs := f.do(t, "GET", "/api/chat/sessions/"+sessionID+"/messages", key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, msgs["data"].([]interface{}), 2)

	resp, _ = f.do(t, "DELETE", "/api/chat/sessions/"+sessionID, key, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestChatRateLimit(t *testing.T) {
	f := newFixture(t, 1)
	key := f.register(t)

	body := map[string]interface{}{"message": "hello", "stream": false}
	resp, _ := f.do(t, "POST", "/api/chat", key, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := f.do(t, "POST", "/api/chat", key, body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", payload["error"])
	assert.GreaterOrEqual(t, payload["retry_after"].(float64), 1.0)
	assert.Equal(t, "chat", payload["endpoint"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t, 10)
	key := f.register(t)
	col := f.createCollection(t, key)

	resp, other := f.do(t, "POST", "/api/auth/register", "", map[string]string{
		"email": "other@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	otherKey := other["api_key"].(string)

	resp, _ = f.do(t, "GET", "/api/collections/"+col, otherKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, 10)

	resp, body := f.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	r, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(r.Body)
	r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Contains(t, string(data), "strata_http_requests_total")
}
