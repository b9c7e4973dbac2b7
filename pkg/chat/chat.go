// Package chat turns a user message plus optional session history into
// a streamed, citation-grounded answer: retrieve, assemble the prompt,
// stream tokens, then emit source, media, follow-up, and usage events.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/strata-ai/strata/pkg/chunker"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/llm"
	"github.com/strata-ai/strata/pkg/prompt"
	"github.com/strata-ai/strata/pkg/reformulate"
	"github.com/strata-ai/strata/pkg/rerank"
	"github.com/strata-ai/strata/pkg/retrieval"
	"github.com/strata-ai/strata/pkg/store"
)

// Reasoning modes.
const (
	ModeStandard = "standard"
	ModeDeep     = "deep"
)

// Message is one client-supplied conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievalOptions selects how grounding material is gathered.
type RetrievalOptions struct {
	Mode           string                 `json:"mode,omitempty"`
	TopK           int                    `json:"top_k,omitempty"`
	Rerank         *bool                  `json:"rerank,omitempty"`
	EnableGraph    *bool                  `json:"enable_graph,omitempty"`
	Hierarchical   *bool                  `json:"hierarchical,omitempty"`
	ExpandContext  *bool                  `json:"expand_context,omitempty"`
	MetadataFilter map[string]interface{} `json:"metadata_filter,omitempty"`
}

// GenerationOptions are passed through to the done-event metadata; the
// provider itself runs with its configured model and sampling.
type GenerationOptions struct {
	Model            string  `json:"model,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
}

// Request is one chat turn.
type Request struct {
	Message           string               `json:"message,omitempty"`
	Messages          []Message            `json:"messages,omitempty"`
	SessionID         string               `json:"session_id,omitempty"`
	CollectionID      string               `json:"collection_id,omitempty"`
	Preset            prompt.Preset        `json:"preset,omitempty"`
	CitationStyle     prompt.CitationStyle `json:"citation_style,omitempty"`
	ReasoningMode     string               `json:"reasoning_mode,omitempty"`
	Retrieval         RetrievalOptions     `json:"retrieval,omitempty"`
	Generation        GenerationOptions    `json:"generation,omitempty"`
	CustomInstruction string               `json:"custom_instruction,omitempty"`
	IsFollowUp        bool                 `json:"is_follow_up,omitempty"`
	Stream            *bool                `json:"stream,omitempty"`
}

// Orchestrator drives the turn pipeline. One instance serves all
// sessions; turns on the same session are serialized, and each user
// holds at most userLimit generations in flight at once.
type Orchestrator struct {
	cfg          *config.ChatConfig
	store        *store.Store
	engine       *retrieval.Engine
	reranker     *rerank.Reranker
	reformulator *reformulate.Reformulator
	provider     llm.Provider
	counter      *chunker.Chunker

	userLimit int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	sems  map[string]*semaphore.Weighted
}

func New(
	cfg *config.ChatConfig,
	st *store.Store,
	engine *retrieval.Engine,
	reranker *rerank.Reranker,
	reformulator *reformulate.Reformulator,
	provider llm.Provider,
	counter *chunker.Chunker,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		store:        st,
		engine:       engine,
		reranker:     reranker,
		reformulator: reformulator,
		provider:     provider,
		counter:      counter,
		userLimit:    3,
		locks:        make(map[string]*sync.Mutex),
		sems:         make(map[string]*semaphore.Weighted),
	}
}

// WithUserConcurrency sets how many turns a single user may run at
// once; zero or negative keeps the current limit.
func (o *Orchestrator) WithUserConcurrency(n int) *Orchestrator {
	if n > 0 {
		o.userLimit = int64(n)
	}
	return o
}

// Stream validates the request, resolves the session, and starts the
// turn. Validation and session errors return before any event is
// produced so the caller can map them to HTTP statuses; everything
// after that arrives as events, ending with exactly one done or error.
func (o *Orchestrator) Stream(ctx context.Context, userID string, req *Request) (<-chan Event, error) {
	message := latestUserMessage(req)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if len(message) > o.cfg.MaxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters", o.cfg.MaxMessageLength)
	}
	if req.Preset != "" && !prompt.ValidPreset(req.Preset) {
		return nil, fmt.Errorf("unknown preset %q", req.Preset)
	}
	if req.ReasoningMode == "" {
		req.ReasoningMode = ModeStandard
	}
	if req.ReasoningMode != ModeStandard && req.ReasoningMode != ModeDeep {
		return nil, fmt.Errorf("unknown reasoning mode %q", req.ReasoningMode)
	}
	if req.Retrieval.TopK < 1 {
		req.Retrieval.TopK = 5
	}
	if req.Retrieval.TopK > o.cfg.MaxTopK {
		req.Retrieval.TopK = o.cfg.MaxTopK
	}

	session, err := o.resolveSession(ctx, userID, req, message)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 100)
	go o.run(ctx, ch, userID, session, req, message)
	return ch, nil
}

// Completion is the non-streaming response shape.
type Completion struct {
	SessionID         string                 `json:"session_id"`
	Content           string                 `json:"content"`
	Sources           []SourceRef            `json:"sources,omitempty"`
	Media             []MediaRef             `json:"media,omitempty"`
	FollowUpQuestions []FollowUpQuestion     `json:"follow_up_questions,omitempty"`
	PromptTokens      int                    `json:"prompt_tokens"`
	CompletionTokens  int                    `json:"completion_tokens"`
	TotalTokens       int                    `json:"total_tokens"`
	RetrievalTokens   int                    `json:"retrieval_tokens"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Complete runs a turn to completion and folds the event stream into a
// single response.
func (o *Orchestrator) Complete(ctx context.Context, userID string, req *Request) (*Completion, error) {
	events, err := o.Stream(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	out := &Completion{}
	var sb strings.Builder
	for ev := range events {
		switch ev.Type {
		case EventDelta:
			sb.WriteString(ev.Content)
		case EventSources:
			out.Sources = ev.Sources
		case EventMedia:
			out.Media = ev.Media
		case EventFollowUp:
			out.FollowUpQuestions = ev.FollowUpQuestions
		case EventUsage:
			out.PromptTokens = ev.PromptTokens
			out.CompletionTokens = ev.CompletionTokens
			out.TotalTokens = ev.TotalTokens
			out.RetrievalTokens = ev.RetrievalTokens
		case EventDone:
			out.SessionID = ev.SessionID
			out.Metadata = ev.Metadata
		case EventError:
			return nil, fmt.Errorf("%s", ev.Error)
		}
	}
	out.Content = sb.String()
	if out.SessionID == "" {
		return nil, fmt.Errorf("chat stream ended without completion")
	}
	return out, nil
}

func (o *Orchestrator) resolveSession(ctx context.Context, userID string, req *Request, message string) (*store.ChatSession, error) {
	if req.SessionID != "" {
		return o.store.GetSession(ctx, userID, req.SessionID)
	}
	title := message
	if len(title) > 80 {
		title = title[:80]
	}
	return o.store.CreateSession(ctx, userID, req.CollectionID, title)
}

func (o *Orchestrator) run(ctx context.Context, ch chan<- Event, userID string, session *store.ChatSession, req *Request, message string) {
	defer close(ch)

	// Turns beyond the per-user cap queue here rather than piling more
	// generations onto the provider.
	sem := o.userSemaphore(userID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	unlock := o.lockSession(session.ID)
	defer unlock()

	// emit drops the turn when the client is gone; a false return means
	// stop everything and persist nothing.
	emit := func(ev Event) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- ev:
			return true
		}
	}

	history, historyTexts := o.loadHistory(ctx, session.ID)

	collectionID := req.CollectionID
	if collectionID == "" {
		collectionID = session.CollectionID
	}

	var results []retrieval.Result
	if collectionID != "" {
		var err error
		results, err = o.gather(ctx, emit, collectionID, message, historyTexts, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(Event{Type: EventError, Error: fmt.Sprintf("retrieval failed: %v", err)})
			return
		}
	}

	sources, promptSources := o.buildSources(ctx, userID, results)
	retrievalTokens := 0
	for _, r := range results {
		retrievalTokens += o.counter.CountTokens(r.Content)
	}

	assembled := prompt.Assemble(&prompt.Request{
		Preset:             req.Preset,
		CitationStyle:      req.CitationStyle,
		Sources:            promptSources,
		CustomSystemPrompt: req.CustomInstruction,
		PriorContext:       priorContext(req, history),
	})

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: assembled.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: message})

	stream, err := o.provider.GenerateStreaming(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		emit(Event{Type: EventError, Error: fmt.Sprintf("generation failed: %v", err)})
		return
	}

	var answer strings.Builder
	completionTokens := 0
	for chunk := range stream {
		switch chunk.Type {
		case "text":
			answer.WriteString(chunk.Text)
			if !emit(Event{Type: EventDelta, Content: chunk.Text}) {
				return
			}
		case "error":
			emit(Event{Type: EventError, Error: fmt.Sprintf("generation failed: %v", chunk.Err)})
			return
		case "done":
			completionTokens = chunk.Tokens
		}
	}
	if ctx.Err() != nil {
		return
	}
	if completionTokens == 0 {
		completionTokens = o.counter.CountTokens(answer.String())
	}

	if len(sources) > 0 {
		if !emit(Event{Type: EventSources, Sources: sources}) {
			return
		}
	}
	if media := detectMedia(results); len(media) > 0 {
		if !emit(Event{Type: EventMedia, Media: media}) {
			return
		}
	}
	if followUps := o.followUps(ctx, message, answer.String()); len(followUps) > 0 {
		if !emit(Event{Type: EventFollowUp, FollowUpQuestions: followUps}) {
			return
		}
	}

	promptTokens := 0
	for _, m := range messages {
		promptTokens += o.counter.CountTokens(m.Content)
	}
	if !emit(Event{
		Type:             EventUsage,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		RetrievalTokens:  retrievalTokens,
	}) {
		return
	}

	// The turn is only recorded once everything needed for done has
	// succeeded; an aborted stream leaves the session untouched.
	err = o.store.AppendTurn(ctx, session.ID,
		&store.ChatMessage{SessionID: session.ID, Role: store.RoleUser, Content: message},
		&store.ChatMessage{SessionID: session.ID, Role: store.RoleAssistant, Content: answer.String()})
	if err != nil {
		emit(Event{Type: EventError, Error: fmt.Sprintf("failed to persist turn: %v", err)})
		return
	}

	emit(Event{
		Type:      EventDone,
		SessionID: session.ID,
		Metadata: map[string]interface{}{
			"model":          o.provider.Model(),
			"reasoning_mode": req.ReasoningMode,
			"result_count":   len(results),
		},
	})
}

// gather runs retrieval for the turn: reformulated variants of the
// message, plus LLM-proposed sub-queries in deep mode, merged and
// optionally reranked.
func (o *Orchestrator) gather(ctx context.Context, emit func(Event) bool, collectionID, message string, history []string, req *Request) ([]retrieval.Result, error) {
	queries := []string{message}
	if o.reformulator != nil {
		queries = o.reformulator.ForTurn(ctx, message, history)
	}

	merged := map[string]retrieval.Result{}
	for _, q := range queries {
		resp, err := o.retrieveOne(ctx, collectionID, q, req)
		if err != nil {
			return nil, err
		}
		mergeResults(merged, resp.Results)
	}

	if req.ReasoningMode == ModeDeep {
		if !emit(Event{Type: EventReasoningStep, Step: "analyzing initial results"}) {
			return nil, ctx.Err()
		}
		seen := map[string]bool{strings.ToLower(message): true}
		for iter := 1; iter < o.cfg.DeepIterations; iter++ {
			subs := o.subQueries(ctx, message, flatten(merged))
			ran := false
			for _, sq := range subs {
				key := strings.ToLower(sq)
				if seen[key] {
					continue
				}
				seen[key] = true
				ran = true
				if !emit(Event{Type: EventSubQuery, Query: sq}) {
					return nil, ctx.Err()
				}
				resp, err := o.retrieveOne(ctx, collectionID, sq, req)
				if err != nil {
					return nil, err
				}
				mergeResults(merged, resp.Results)
			}
			if !ran {
				break
			}
			if !emit(Event{Type: EventReasoningStep, Step: fmt.Sprintf("merged results after iteration %d", iter)}) {
				return nil, ctx.Err()
			}
		}
	}

	results := flatten(merged)
	if len(results) > req.Retrieval.TopK {
		results = results[:req.Retrieval.TopK]
	}

	rerankEnabled := *o.cfg.EnableRerank
	if req.Retrieval.Rerank != nil {
		rerankEnabled = *req.Retrieval.Rerank
	}
	if rerankEnabled && o.reranker != nil {
		reranked, err := o.reranker.Rerank(ctx, message, results)
		if err == nil {
			results = reranked
		}
	}
	return results, nil
}

// retrievalQueryLimit matches the engine's maximum query length; chat
// messages may be longer than retrieval queries.
const retrievalQueryLimit = 2000

func (o *Orchestrator) retrieveOne(ctx context.Context, collectionID, query string, req *Request) (*retrieval.Response, error) {
	if len(query) > retrievalQueryLimit {
		query = query[:retrievalQueryLimit]
	}
	mode := retrieval.Mode(req.Retrieval.Mode)
	if req.Retrieval.Hierarchical != nil && *req.Retrieval.Hierarchical {
		mode = retrieval.ModeHierarchical
	}
	if req.Retrieval.EnableGraph != nil && *req.Retrieval.EnableGraph {
		mode = retrieval.ModeGraph
	}
	return o.engine.Retrieve(ctx, &retrieval.Request{
		Query:          query,
		Mode:           mode,
		TopK:           req.Retrieval.TopK,
		CollectionID:   collectionID,
		MetadataFilter: req.Retrieval.MetadataFilter,
		ExpandContext:  req.Retrieval.ExpandContext,
	})
}

// mergeResults de-duplicates by chunk ID, keeping the higher score.
func mergeResults(merged map[string]retrieval.Result, results []retrieval.Result) {
	for _, r := range results {
		if prev, ok := merged[r.ChunkID]; !ok || r.Score > prev.Score {
			merged[r.ChunkID] = r
		}
	}
}

func flatten(merged map[string]retrieval.Result) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// loadHistory returns prior turns, newest last, trimmed from the front
// to fit the configured token budget.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) ([]llm.Message, []string) {
	msgs, err := o.store.RecentMessages(ctx, sessionID, 50)
	if err != nil {
		slog.Warn("Failed to load session history", "session_id", sessionID, "error", err)
		return nil, nil
	}

	budget := o.cfg.HistoryTokenBudget
	var kept []*store.ChatMessage
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := o.counter.CountTokens(msgs[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append([]*store.ChatMessage{msgs[i]}, kept...)
	}

	history := make([]llm.Message, 0, len(kept))
	texts := make([]string, 0, len(kept))
	for _, m := range kept {
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
		texts = append(texts, m.Content)
	}
	return history, texts
}

func (o *Orchestrator) buildSources(ctx context.Context, userID string, results []retrieval.Result) ([]SourceRef, []prompt.Source) {
	titles := map[string]*store.Document{}
	sources := make([]SourceRef, 0, len(results))
	promptSources := make([]prompt.Source, 0, len(results))
	for _, r := range results {
		doc, ok := titles[r.DocumentID]
		if !ok {
			var err error
			doc, err = o.store.GetDocument(ctx, userID, r.DocumentID)
			if err != nil {
				doc = &store.Document{ID: r.DocumentID}
			}
			titles[r.DocumentID] = doc
		}
		sources = append(sources, SourceRef{
			DocumentID: r.DocumentID,
			Title:      doc.Title,
			Filename:   doc.Filename,
			ChunkIndex: r.ChunkIndex,
			Score:      r.Score,
		})
		author, _ := r.Metadata["author"].(string)
		date, _ := r.Metadata["date"].(string)
		promptSources = append(promptSources, prompt.Source{
			Result:        r,
			DocumentTitle: doc.Title,
			Author:        author,
			Date:          date,
		})
	}
	return sources, promptSources
}

// priorContext carries the previous assistant answer into a follow-up
// turn verbatim.
func priorContext(req *Request, history []llm.Message) string {
	if !req.IsFollowUp {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return ""
}

var imageMarker = regexp.MustCompile(`\[Image, page (\d+): ([^\]]+)\]`)

// detectMedia surfaces images, tables, and figures referenced by the
// retrieved chunks.
func detectMedia(results []retrieval.Result) []MediaRef {
	var media []MediaRef
	seen := map[string]bool{}
	for _, r := range results {
		for _, m := range imageMarker.FindAllStringSubmatch(r.Content, -1) {
			key := r.DocumentID + "/" + m[1] + "/" + m[2]
			if seen[key] {
				continue
			}
			seen[key] = true
			page := 0
			fmt.Sscanf(m[1], "%d", &page)
			media = append(media, MediaRef{
				Type:             "image",
				SourceDocumentID: r.DocumentID,
				Description:      m[2],
				PageNumber:       page,
			})
		}
		if isTable(r.Content) && !seen["table/"+r.ChunkID] {
			seen["table/"+r.ChunkID] = true
			preview := r.Content
			if len(preview) > 200 {
				preview = preview[:200]
			}
			media = append(media, MediaRef{
				Type:             "table",
				SourceDocumentID: r.DocumentID,
				ContentPreview:   preview,
			})
		}
	}
	return media
}

func isTable(content string) bool {
	rows := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "|") {
			rows++
		}
	}
	return rows >= 3
}

const followUpPrompt = `Based on this conversation, suggest up to 3 short follow-up questions the user might ask next.

Question: %s

Answer: %s

Respond with only a JSON array:
[{"question": "...", "relevance": 0.9}, ...]`

const followUpInputLimit = 4000

// followUps asks the model for suggested continuations. Best effort:
// any failure just drops the event.
func (o *Orchestrator) followUps(ctx context.Context, message, answer string) []FollowUpQuestion {
	if len(answer) > followUpInputLimit {
		answer = answer[:followUpInputLimit]
	}
	out, _, err := o.provider.Generate(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(followUpPrompt, message, answer)},
	})
	if err != nil {
		slog.Debug("Follow-up generation failed", "error", err)
		return nil
	}

	var questions []FollowUpQuestion
	if err := unmarshalArray(out, &questions); err != nil {
		return nil
	}
	if len(questions) > 3 {
		questions = questions[:3]
	}
	var valid []FollowUpQuestion
	for _, q := range questions {
		if strings.TrimSpace(q.Question) != "" {
			valid = append(valid, q)
		}
	}
	return valid
}

const subQueryPrompt = `You are decomposing a research question into targeted sub-queries.

Question: %s

Already retrieved material covers:
%s

Suggest up to 2 short search queries for aspects not yet covered.
Respond with only a JSON array of strings: ["...", "..."]`

// subQueries asks the model for deep-mode expansion queries.
func (o *Orchestrator) subQueries(ctx context.Context, message string, results []retrieval.Result) []string {
	var covered strings.Builder
	for i, r := range results {
		if i >= 5 {
			break
		}
		preview := r.Content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		fmt.Fprintf(&covered, "- %s\n", preview)
	}

	out, _, err := o.provider.Generate(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(subQueryPrompt, message, covered.String())},
	})
	if err != nil {
		slog.Debug("Sub-query generation failed", "error", err)
		return nil
	}

	var queries []string
	if err := unmarshalArray(out, &queries); err != nil {
		return nil
	}
	if len(queries) > 2 {
		queries = queries[:2]
	}
	var valid []string
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			valid = append(valid, strings.TrimSpace(q))
		}
	}
	return valid
}

// unmarshalArray extracts the first JSON array from a model response.
func unmarshalArray(response string, dest interface{}) error {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || start >= end {
		return fmt.Errorf("no JSON array in response")
	}
	return json.Unmarshal([]byte(response[start:end+1]), dest)
}

func (o *Orchestrator) userSemaphore(userID string) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sems[userID]
	if !ok {
		s = semaphore.NewWeighted(o.userLimit)
		o.sems[userID] = s
	}
	return s
}

func (o *Orchestrator) lockSession(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func latestUserMessage(req *Request) string {
	if req.Message != "" {
		return strings.TrimSpace(req.Message)
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" || req.Messages[i].Role == "" {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return ""
}
