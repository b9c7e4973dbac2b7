package config

import (
	"fmt"
	"runtime"
	"time"
)

// IngestionConfig controls the document processing pipeline.
type IngestionConfig struct {
	// Workers bounds concurrent document processing. Zero means 2x cores.
	Workers int `yaml:"workers,omitempty"`
	// EmbedWorkers bounds concurrent embedding batches (provider QPS).
	EmbedWorkers int `yaml:"embed_workers,omitempty"`
	// EnableDomainProcessors toggles the document-kind classifier.
	EnableDomainProcessors *bool `yaml:"enable_domain_processors,omitempty"`
	// EnableGraph toggles graph index construction at ingestion.
	EnableGraph *bool `yaml:"enable_graph,omitempty"`
	// EnableSummaries toggles document summary generation for
	// hierarchical retrieval.
	EnableSummaries *bool `yaml:"enable_summaries,omitempty"`
}

func (c *IngestionConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 2 * runtime.NumCPU()
	}
	if c.EmbedWorkers == 0 {
		c.EmbedWorkers = 4
	}
	if c.EnableDomainProcessors == nil {
		c.EnableDomainProcessors = BoolPtr(true)
	}
	if c.EnableGraph == nil {
		c.EnableGraph = BoolPtr(true)
	}
	if c.EnableSummaries == nil {
		c.EnableSummaries = BoolPtr(true)
	}
}

func (c *IngestionConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.EmbedWorkers < 1 {
		return fmt.Errorf("embed_workers must be at least 1, got %d", c.EmbedWorkers)
	}
	return nil
}

// ChunkingConfig controls how documents are split.
type ChunkingConfig struct {
	// TargetTokens is the per-chunk token target.
	TargetTokens int `yaml:"target_tokens,omitempty"`
	// OverlapTokens is carried from the tail of one chunk into the next.
	OverlapTokens int `yaml:"overlap_tokens,omitempty"`
	// Encoding names the tiktoken encoding used for counting.
	Encoding string `yaml:"encoding,omitempty"`
}

func (c *ChunkingConfig) SetDefaults() {
	if c.TargetTokens == 0 {
		c.TargetTokens = 400
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

func (c *ChunkingConfig) Validate() error {
	if c.TargetTokens <= 0 {
		return fmt.Errorf("target_tokens must be positive, got %d", c.TargetTokens)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("overlap_tokens cannot be negative, got %d", c.OverlapTokens)
	}
	if c.OverlapTokens >= c.TargetTokens {
		return fmt.Errorf("overlap_tokens (%d) must be less than target_tokens (%d)", c.OverlapTokens, c.TargetTokens)
	}
	return nil
}

// DomainConfig controls document-kind classification.
type DomainConfig struct {
	// Threshold is the minimum confidence to pick a specialized
	// processor over the general one.
	Threshold float64 `yaml:"threshold,omitempty"`
	// UseLLMExtraction lets the resume processor call the LLM for
	// structured extraction before falling back to regex.
	UseLLMExtraction *bool `yaml:"use_llm_extraction,omitempty"`
}

func (c *DomainConfig) SetDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.3
	}
	if c.UseLLMExtraction == nil {
		c.UseLLMExtraction = BoolPtr(true)
	}
}

// RetrievalConfig controls the retrieval engine.
type RetrievalConfig struct {
	// Fusion selects hybrid score fusion: "rrf" (default) or "linear".
	Fusion string `yaml:"fusion,omitempty"`
	// RRFK is the rank constant for reciprocal rank fusion.
	RRFK int `yaml:"rrf_k,omitempty"`
	// LinearAlpha weights the semantic score when Fusion is "linear".
	LinearAlpha float64 `yaml:"linear_alpha,omitempty"`
	// HierarchicalDocs is the number of documents selected by the
	// summary-level pass before chunk search.
	HierarchicalDocs int `yaml:"hierarchical_docs,omitempty"`
	// Deadline is the soft retrieval deadline; partial results are not
	// returned after it passes.
	Deadline time.Duration `yaml:"deadline,omitempty"`
	// ExpandContext enriches each result with ±1 neighboring chunks.
	ExpandContext *bool `yaml:"expand_context,omitempty"`
	// CacheResults stores retrieval responses in the ephemeral cache.
	CacheResults *bool `yaml:"cache_results,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.Fusion == "" {
		c.Fusion = "rrf"
	}
	if c.RRFK == 0 {
		c.RRFK = 60
	}
	if c.LinearAlpha == 0 {
		c.LinearAlpha = 0.7
	}
	if c.HierarchicalDocs == 0 {
		c.HierarchicalDocs = 5
	}
	if c.Deadline == 0 {
		c.Deadline = 10 * time.Second
	}
	if c.ExpandContext == nil {
		c.ExpandContext = BoolPtr(false)
	}
	if c.CacheResults == nil {
		c.CacheResults = BoolPtr(true)
	}
}

func (c *RetrievalConfig) Validate() error {
	switch c.Fusion {
	case "rrf", "linear":
	default:
		return fmt.Errorf("fusion must be 'rrf' or 'linear', got %q", c.Fusion)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.RRFK)
	}
	if c.LinearAlpha < 0 || c.LinearAlpha > 1 {
		return fmt.Errorf("linear_alpha must be in [0, 1], got %f", c.LinearAlpha)
	}
	if c.HierarchicalDocs <= 0 {
		return fmt.Errorf("hierarchical_docs must be positive, got %d", c.HierarchicalDocs)
	}
	return nil
}

// ReformulationConfig controls query reformulation.
type ReformulationConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	// Mode is the default strategy for queries without conversation
	// history: "expand" or "multi". History always clarifies first.
	Mode string `yaml:"mode,omitempty"`
	// Timeout caps the reformulation LLM call; on expiry the original
	// query is used unchanged.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// MaxVariants caps multi-query output, including the original.
	MaxVariants int `yaml:"max_variants,omitempty"`
}

func (c *ReformulationConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Mode == "" {
		c.Mode = "expand"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxVariants == 0 {
		c.MaxVariants = 4
	}
}

func (c *ReformulationConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// SynonymConfig controls the synonym service.
type SynonymConfig struct {
	// DictionaryPath points to a line-based custom dictionary.
	DictionaryPath string `yaml:"dictionary_path,omitempty"`
	// WordNetPath points to a WordNet-format synonym file (optional).
	WordNetPath string `yaml:"wordnet_path,omitempty"`
	// MaxSynonyms truncates results per word.
	MaxSynonyms int `yaml:"max_synonyms,omitempty"`
	// CacheSize bounds the LRU cache.
	CacheSize int `yaml:"cache_size,omitempty"`
}

func (c *SynonymConfig) SetDefaults() {
	if c.MaxSynonyms == 0 {
		c.MaxSynonyms = 5
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1024
	}
}

// ChatConfig controls the chat orchestrator.
type ChatConfig struct {
	// HistoryTokenBudget caps prior-turn context injected into prompts.
	HistoryTokenBudget int `yaml:"history_token_budget,omitempty"`
	// MaxMessageLength rejects longer user messages.
	MaxMessageLength int `yaml:"max_message_length,omitempty"`
	// MaxTopK clamps chat retrieval top_k.
	MaxTopK int `yaml:"max_top_k,omitempty"`
	// DeepIterations caps deep-reasoning retrieval rounds.
	DeepIterations int `yaml:"deep_iterations,omitempty"`
	// EnableRerank turns on the LLM reranker for chat retrieval.
	EnableRerank *bool `yaml:"enable_rerank,omitempty"`
	// CancelGrace bounds how long cleanup may take after a client
	// disconnect.
	CancelGrace time.Duration `yaml:"cancel_grace,omitempty"`
}

func (c *ChatConfig) SetDefaults() {
	if c.HistoryTokenBudget == 0 {
		c.HistoryTokenBudget = 2000
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = 10000
	}
	if c.MaxTopK == 0 {
		c.MaxTopK = 20
	}
	if c.DeepIterations == 0 {
		c.DeepIterations = 3
	}
	if c.EnableRerank == nil {
		c.EnableRerank = BoolPtr(false)
	}
	if c.CancelGrace == 0 {
		c.CancelGrace = 500 * time.Millisecond
	}
}
