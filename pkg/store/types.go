package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DocumentStatus is the ingestion state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// JSONMap is a free-form metadata object persisted as a JSON column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Vector is a dense embedding persisted as a JSON array column.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vector: %w", err)
	}
	return string(data), nil
}

func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var data []byte
	switch s := src.(type) {
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported vector column type %T", src)
	}
	return json.Unmarshal(data, v)
}

// User owns collections, documents, and chat sessions.
type User struct {
	ID             string    `json:"user_id"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	APIKeyHash     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// CollectionConfig fixes per-collection ingestion parameters.
type CollectionConfig struct {
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Dimension      int    `json:"dimension,omitempty"`
	ChunkTokens    int    `json:"chunk_tokens,omitempty"`
	OverlapTokens  int    `json:"overlap_tokens,omitempty"`
}

// Collection is the unit of retrieval scoping.
type Collection struct {
	ID            string           `json:"collection_id"`
	UserID        string           `json:"user_id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Metadata      JSONMap          `json:"metadata,omitempty"`
	Config        CollectionConfig `json:"config"`
	DocumentCount int              `json:"document_count"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ProcessingInfo records pipeline progress and errors on a document.
type ProcessingInfo struct {
	Error            string `json:"error,omitempty"`
	Stage            string `json:"stage,omitempty"`
	ChunkCount       int    `json:"chunk_count,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	ExtractionMethod string `json:"extraction_method,omitempty"`
	Processor        string `json:"processor,omitempty"`
}

func (p ProcessingInfo) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processing info: %w", err)
	}
	return string(data), nil
}

func (p *ProcessingInfo) Scan(src interface{}) error {
	if src == nil {
		*p = ProcessingInfo{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported processing info column type %T", src)
	}
	if len(data) == 0 {
		*p = ProcessingInfo{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// Document is an ingested file within a collection.
type Document struct {
	ID                   string         `json:"document_id"`
	CollectionID         string         `json:"collection_id"`
	UserID               string         `json:"user_id"`
	Title                string         `json:"title,omitempty"`
	Filename             string         `json:"filename,omitempty"`
	ContentType          string         `json:"content_type"`
	SizeBytes            int64          `json:"size_bytes"`
	ContentHash          string         `json:"content_hash"`
	UniqueIdentifierHash string         `json:"-"`
	Status               DocumentStatus `json:"status"`
	Metadata             JSONMap        `json:"metadata,omitempty"`
	ProcessingInfo       ProcessingInfo `json:"processing_info"`
	Summary              string         `json:"summary,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	ProcessedAt          *time.Time     `json:"processed_at,omitempty"`
}

// Chunk is a contiguous slice of document text with its index position.
// The embedding itself lives in the vector index keyed by chunk ID.
type Chunk struct {
	ID           string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	CollectionID string  `json:"collection_id"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	TokenCount   int     `json:"token_count"`
	Metadata     JSONMap `json:"metadata,omitempty"`
	Annotations  JSONMap `json:"annotations,omitempty"`
}

// DocumentSummary feeds hierarchical retrieval.
type DocumentSummary struct {
	DocumentID   string `json:"document_id"`
	CollectionID string `json:"collection_id"`
	SummaryText  string `json:"summary_text"`
	Embedding    Vector `json:"-"`
}

// ChatSession groups an ordered list of chat messages.
type ChatSession struct {
	ID            string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	CollectionID  string     `json:"collection_id,omitempty"`
	Title         string     `json:"title,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	MessageCount  int        `json:"message_count"`
}

// MessageRole is the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is one append-only turn entry in a session.
type ChatMessage struct {
	ID        string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// DocumentStatusInfo is the response of the status endpoint.
type DocumentStatusInfo struct {
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	TotalTokens  int            `json:"total_tokens"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

// Clamp normalizes the page to [1, 100] limit and non-negative offset.
func (p Page) Clamp() Page {
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
