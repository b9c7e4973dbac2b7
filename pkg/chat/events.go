package chat

// Event types emitted on a chat stream. Exactly one terminal event
// (done or error) ends every stream.
const (
	EventDelta         = "delta"
	EventSources       = "sources"
	EventMedia         = "media"
	EventFollowUp      = "follow_up"
	EventReasoningStep = "reasoning_step"
	EventSubQuery      = "sub_query"
	EventUsage         = "usage"
	EventDone          = "done"
	EventError         = "error"
)

// SourceRef is a lightweight citation reference.
type SourceRef struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// MediaRef points at non-text material surfaced by retrieved chunks.
type MediaRef struct {
	Type             string `json:"type"` // image, table, figure, video, audio
	SourceDocumentID string `json:"source_document_id"`
	Description      string `json:"description,omitempty"`
	PageNumber       int    `json:"page_number,omitempty"`
	URL              string `json:"url,omitempty"`
	ContentPreview   string `json:"content_preview,omitempty"`
}

// FollowUpQuestion is one suggested continuation.
type FollowUpQuestion struct {
	Question  string  `json:"question"`
	Relevance float64 `json:"relevance"`
}

// Event is the SSE payload envelope. Fields are populated per Type;
// everything else stays empty and is omitted from the wire form.
type Event struct {
	Type string `json:"type"`

	// delta
	Content string `json:"content,omitempty"`

	// sources
	Sources []SourceRef `json:"sources,omitempty"`

	// media
	Media []MediaRef `json:"media,omitempty"`

	// follow_up
	FollowUpQuestions []FollowUpQuestion `json:"follow_up_questions,omitempty"`

	// reasoning_step / sub_query
	Step  string `json:"step,omitempty"`
	Query string `json:"query,omitempty"`

	// usage
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
	RetrievalTokens  int `json:"retrieval_tokens,omitempty"`

	// done
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
