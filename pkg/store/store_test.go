package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewWithDB(db, "sqlite")
	require.NoError(t, err)
	return s
}

func seedUser(t *testing.T, s *Store) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "user@example.com", "cred-hash", "key-hash")
	require.NoError(t, err)
	return u
}

func seedCollection(t *testing.T, s *Store, userID string) *Collection {
	t.Helper()
	c, err := s.CreateCollection(context.Background(), userID, "docs", "", nil, CollectionConfig{})
	require.NoError(t, err)
	return c
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "a@example.com", "h1", "k1")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "a@example.com", "h2", "k2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetUserByAPIKeyHash(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s)

	got, err := s.GetUserByAPIKeyHash(context.Background(), "key-hash")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByAPIKeyHash(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollectionOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, s)
	other, err := s.CreateUser(ctx, "b@example.com", "h", "k2")
	require.NoError(t, err)

	c := seedCollection(t, s, owner.ID)

	_, err = s.GetCollection(ctx, other.ID, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := s.GetCollection(ctx, owner.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Name)
}

func TestDocumentDedupeByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	first, created, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID, Filename: "a.txt",
		ContentType: "text/plain", ContentHash: "hash-1",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID, Filename: "b.txt",
		ContentType: "text/plain", ContentHash: "hash-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestDocumentDedupeByUniqueIdentifier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	first, created, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/html", ContentHash: "hash-a",
		UniqueIdentifierHash: "url-hash",
	})
	require.NoError(t, err)
	assert.True(t, created)

	// same source URL, different fetched bytes
	second, created, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/html", ContentHash: "hash-b",
		UniqueIdentifierHash: "url-hash",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestDedupeScopedPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u1 := seedUser(t, s)
	u2, err := s.CreateUser(ctx, "c@example.com", "h", "k3")
	require.NoError(t, err)
	c1 := seedCollection(t, s, u1.ID)
	c2 := seedCollection(t, s, u2.ID)

	_, created, err := s.CreateDocument(ctx, &Document{
		CollectionID: c1.ID, UserID: u1.ID,
		ContentType: "text/plain", ContentHash: "shared-hash",
	})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.CreateDocument(ctx, &Document{
		CollectionID: c2.ID, UserID: u2.ID,
		ContentType: "text/plain", ContentHash: "shared-hash",
	})
	require.NoError(t, err)
	assert.True(t, created, "same bytes uploaded by another user is a new document")
}

func TestClaimForProcessingIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/plain", ContentHash: "h",
	})
	require.NoError(t, err)

	ok, err := s.ClaimForProcessing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimForProcessing(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/plain", ContentHash: "h",
	})
	require.NoError(t, err)

	ok, err := s.ClaimForProcessing(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, ok)

	info := ProcessingInfo{Stage: "completed", ChunkCount: 3, TotalTokens: 1200, Processor: "general"}
	require.NoError(t, s.MarkCompleted(ctx, d.ID, info, JSONMap{"lang": "en"}, "Title"))

	status, err := s.GetStatus(ctx, u.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, 3, status.ChunkCount)
	assert.Equal(t, 1200, status.TotalTokens)
	assert.NotNil(t, status.ProcessedAt)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/plain", ContentHash: "h",
	})
	require.NoError(t, err)

	err = s.ResetForRetry(ctx, u.ID, d.ID)
	assert.ErrorIs(t, err, ErrConflict, "pending documents cannot be retried")

	_, err = s.ClaimForProcessing(ctx, d.ID)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, d.ID, "parse error"))

	status, err := s.GetStatus(ctx, u.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, "parse error", status.ErrorMessage)

	require.NoError(t, s.ResetForRetry(ctx, u.ID, d.ID))
	ok, err := s.ClaimForProcessing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChunksRoundTripAndNeighbors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)
	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/plain", ContentHash: "h",
	})
	require.NoError(t, err)

	chunks := []*Chunk{
		{Content: "first", TokenCount: 10},
		{Content: "second", TokenCount: 12},
		{Content: "third", TokenCount: 9},
	}
	require.NoError(t, s.InsertChunks(ctx, d.ID, c.ID, chunks))

	got, err := s.GetChunksByDocument(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ch := range got {
		assert.Equal(t, i, ch.ChunkIndex)
	}

	prev, next, err := s.GetNeighborChunks(ctx, d.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.NotNil(t, next)
	assert.Equal(t, "first", prev.Content)
	assert.Equal(t, "third", next.Content)

	prev, next, err = s.GetNeighborChunks(ctx, d.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, prev)
	require.NotNil(t, next)
}

func TestDeleteDocumentCascadesChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)
	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID,
		ContentType: "text/plain", ContentHash: "h",
	})
	require.NoError(t, err)
	require.NoError(t, s.InsertChunks(ctx, d.ID, c.ID, []*Chunk{{Content: "x"}}))

	require.NoError(t, s.DeleteDocument(ctx, u.ID, d.ID))

	got, err := s.GetChunksByDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecountDocumentsCountsCompletedOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	d1, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID, ContentType: "text/plain", ContentHash: "h1"})
	require.NoError(t, err)
	_, _, err = s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID, ContentType: "text/plain", ContentHash: "h2"})
	require.NoError(t, err)

	_, err = s.ClaimForProcessing(ctx, d1.ID)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, d1.ID, ProcessingInfo{}, nil, ""))
	require.NoError(t, s.RecountDocuments(ctx, c.ID))

	got, err := s.GetCollection(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)
}

func TestSessionTurnAppendAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	sess, err := s.CreateSession(ctx, u.ID, "", "")
	require.NoError(t, err)

	err = s.AppendTurn(ctx, sess.ID,
		&ChatMessage{Role: RoleUser, Content: "hello"},
		&ChatMessage{Role: RoleAssistant, Content: "hi there"})
	require.NoError(t, err)

	got, err := s.GetSession(ctx, u.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.NotNil(t, got.LastMessageAt)

	msgs, total, err := s.GetMessages(ctx, u.ID, sess.ID, Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)

	recent, err := s.RecentMessages(ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "hello", recent[0].Content)
}

func TestDeleteCollectionDetachesSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)

	sess, err := s.CreateSession(ctx, u.ID, c.ID, "t")
	require.NoError(t, err)

	require.NoError(t, s.DeleteCollection(ctx, u.ID, c.ID))

	got, err := s.GetSession(ctx, u.ID, sess.ID)
	require.NoError(t, err, "session survives collection deletion")
	assert.Empty(t, got.CollectionID)
}

func TestSummaryUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)
	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID, ContentType: "text/plain", ContentHash: "h"})
	require.NoError(t, err)

	sum := &DocumentSummary{
		DocumentID: d.ID, CollectionID: c.ID,
		SummaryText: "about widgets", Embedding: Vector{0.1, 0.2},
	}
	require.NoError(t, s.UpsertSummary(ctx, sum))
	require.NoError(t, s.UpsertSummary(ctx, sum)) // idempotent

	got, err := s.GetSummariesByCollection(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "about widgets", got[0].SummaryText)
	assert.Equal(t, Vector{0.1, 0.2}, got[0].Embedding)
}

func TestDocumentSummaryCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c := seedCollection(t, s, u.ID)
	d, _, err := s.CreateDocument(ctx, &Document{
		CollectionID: c.ID, UserID: u.ID, ContentType: "text/plain", ContentHash: "h"})
	require.NoError(t, err)

	set, err := s.SetSummaryIfEmpty(ctx, d.ID, "first")
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetSummaryIfEmpty(ctx, d.ID, "second")
	require.NoError(t, err)
	assert.False(t, set, "existing summary must win")

	got, err := s.GetDocument(ctx, u.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Summary)
}

func TestListDocumentsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	c1 := seedCollection(t, s, u.ID)
	c2, err := s.CreateCollection(ctx, u.ID, "other", "", nil, CollectionConfig{})
	require.NoError(t, err)

	for i, col := range []string{c1.ID, c1.ID, c2.ID} {
		_, _, err := s.CreateDocument(ctx, &Document{
			CollectionID: col, UserID: u.ID,
			ContentType: "text/plain", ContentHash: "h" + string(rune('0'+i)),
		})
		require.NoError(t, err)
	}

	docs, total, err := s.ListDocuments(ctx, u.ID, DocumentFilter{CollectionID: c1.ID}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, docs, 2)

	docs, total, err = s.ListDocuments(ctx, u.ID, DocumentFilter{Status: StatusPending}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, docs, 3)
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{dialect: "postgres"}
	assert.Equal(t, "SELECT $1, $2", s.rebind("SELECT ?, ?"))

	s.dialect = "sqlite"
	assert.Equal(t, "SELECT ?, ?", s.rebind("SELECT ?, ?"))
}
