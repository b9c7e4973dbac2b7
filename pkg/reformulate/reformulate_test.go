package reformulate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/config"
)

type fakeLLM struct {
	response string
	err      error
	delay    time.Duration
	calls    int
	lastSeen string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.lastSeen = prompt
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.response, f.err
}

func enabledConfig() *config.ReformulationConfig {
	cfg := &config.ReformulationConfig{Enabled: config.BoolPtr(true)}
	cfg.SetDefaults()
	return cfg
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	return cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
}

func TestDisabledReturnsOriginal(t *testing.T) {
	cfg := &config.ReformulationConfig{}
	cfg.SetDefaults()
	llm := &fakeLLM{response: "never used"}
	r := New(cfg, llm, testCache(t))

	out := r.Reformulate(context.Background(), "original", ModeExpand, nil)
	assert.Equal(t, []string{"original"}, out)
	assert.Zero(t, llm.calls)
}

func TestExpandKeepsOriginalFirst(t *testing.T) {
	llm := &fakeLLM{response: "original plus related terms"}
	r := New(enabledConfig(), llm, testCache(t))

	out := r.Reformulate(context.Background(), "original", ModeExpand, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "original", out[0])
	assert.Equal(t, "original plus related terms", out[1])
}

func TestClarifyUsesHistory(t *testing.T) {
	llm := &fakeLLM{response: "what is the capital of France"}
	r := New(enabledConfig(), llm, testCache(t))

	history := []string{"user: tell me about France", "assistant: France is..."}
	out := r.Reformulate(context.Background(), "what is its capital", ModeClarify, history)
	require.Len(t, out, 2)
	assert.Contains(t, llm.lastSeen, "tell me about France")
	assert.Equal(t, "what is the capital of France", out[1])
}

func TestForTurnSwitchesOnHistory(t *testing.T) {
	llm := &fakeLLM{response: "rewritten"}
	r := New(enabledConfig(), llm, testCache(t))

	r.ForTurn(context.Background(), "what powers it", nil)
	assert.Contains(t, llm.lastSeen, "related terms")

	r.ForTurn(context.Background(), "what powers it", []string{"user: tell me about the sun"})
	assert.Contains(t, llm.lastSeen, "Conversation:")
	assert.Contains(t, llm.lastSeen, "tell me about the sun")
}

func TestForTurnHonorsConfiguredMode(t *testing.T) {
	cfg := enabledConfig()
	cfg.Mode = "multi"
	llm := &fakeLLM{response: "query one\nquery two"}
	r := New(cfg, llm, testCache(t))

	out := r.ForTurn(context.Background(), "broad question", nil)
	assert.Contains(t, llm.lastSeen, "distinct search queries")
	assert.Equal(t, []string{"broad question", "query one", "query two"}, out)
}

func TestMultiDedupesAndCaps(t *testing.T) {
	llm := &fakeLLM{response: "1. query one\n2. Query One\n3. query two\n4. query three\n5. query four"}
	r := New(enabledConfig(), llm, testCache(t))

	out := r.Reformulate(context.Background(), "big question", ModeMulti, nil)
	require.Len(t, out, 4)
	assert.Equal(t, "big question", out[0])
	assert.Equal(t, []string{"big question", "query one", "query two", "query three"}, out)
}

func TestErrorFallsBackToOriginal(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("provider down")}
	r := New(enabledConfig(), llm, testCache(t))

	out := r.Reformulate(context.Background(), "original", ModeExpand, nil)
	assert.Equal(t, []string{"original"}, out)
}

func TestTimeoutFallsBackToOriginal(t *testing.T) {
	cfg := enabledConfig()
	cfg.Timeout = 10 * time.Millisecond
	llm := &fakeLLM{response: "too late", delay: 200 * time.Millisecond}
	r := New(cfg, llm, testCache(t))

	out := r.Reformulate(context.Background(), "original", ModeExpand, nil)
	assert.Equal(t, []string{"original"}, out)
}

func TestResultsAreCached(t *testing.T) {
	llm := &fakeLLM{response: "expanded form"}
	c := testCache(t)
	r := New(enabledConfig(), llm, c)

	first := r.Reformulate(context.Background(), "repeat me", ModeExpand, nil)
	second := r.Reformulate(context.Background(), "repeat me", ModeExpand, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, llm.calls)
}

func TestClarifyNotCached(t *testing.T) {
	llm := &fakeLLM{response: "clarified"}
	r := New(enabledConfig(), llm, testCache(t))

	r.Reformulate(context.Background(), "it", ModeClarify, []string{"user: x"})
	r.Reformulate(context.Background(), "it", ModeClarify, []string{"user: y"})
	assert.Equal(t, 2, llm.calls)
}
