package groq_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/skillpath-ai/internal/adapter/ai/groq"
	"github.com/fairyhunter13/skillpath-ai/internal/config"
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

type noopLimiter struct{ acquires int32 }

func (l *noopLimiter) Acquire(ctx context.Context) error {
	atomic.AddInt32(&l.acquires, 1)
	return ctx.Err()
}

func testCfg(baseURL string) config.Config {
	return config.Config{
		AppEnv:          "test",
		GroqAPIKey:      "test-key",
		GroqBaseURL:     baseURL,
		ChatModel:       "llama3-8b-8192",
		ChatMaxTokens:   500,
		RetryMaxRetries: 3,
	}
}

func completionBody(content string) string {
	return `{"choices":[{"message":{"content":` + `"` + content + `"}}]}`
}

func TestComplete_Success(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("Hello there!")))
	}))
	defer srv.Close()

	lim := &noopLimiter{}
	cl := groq.New(testCfg(srv.URL), lim)
	out, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&lim.acquires))
}

func TestComplete_4xxNotRetried(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cl := groq.New(testCfg(srv.URL), &noopLimiter{})
	_, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestComplete_429RetriedThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(completionBody("recovered")))
	}))
	defer srv.Close()

	cl := groq.New(testCfg(srv.URL), &noopLimiter{})
	out, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// A run of transient failures longer than the retry budget escalates to a
// terminal upstream error after exactly budget+1 attempts.
func TestComplete_TransientFailuresExhaustBudget(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testCfg(srv.URL)
	lim := &noopLimiter{}
	cl := groq.New(cfg, lim)
	_, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, int32(cfg.RetryMaxRetries+1), atomic.LoadInt32(&calls))
	// Every attempt, retries included, went through the limiter.
	assert.Equal(t, int32(cfg.RetryMaxRetries+1), atomic.LoadInt32(&lim.acquires))
}

// With a budget of 2 retries, three transient failures exhaust it before
// the server would have recovered; the would-be success is never reached.
func TestComplete_BudgetExhaustedBeforeRecovery(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completionBody("too late")))
	}))
	defer srv.Close()

	cfg := testCfg(srv.URL)
	cfg.RetryMaxRetries = 2
	cl := groq.New(cfg, &noopLimiter{})
	_, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestComplete_TransientThenSuccessWithinBudget(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(completionBody("third time lucky")))
	}))
	defer srv.Close()

	cl := groq.New(testCfg(srv.URL), &noopLimiter{})
	out, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestComplete_MissingAPIKey(t *testing.T) {
	t.Parallel()
	cfg := testCfg("http://localhost:0")
	cfg.GroqAPIKey = ""
	cl := groq.New(cfg, &noopLimiter{})
	_, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestComplete_CancelledContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionBody("unused")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cl := groq.New(testCfg(srv.URL), &noopLimiter{})
	_, err := cl.Complete(ctx, []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	cl := groq.New(testCfg(srv.URL), &noopLimiter{})
	_, err := cl.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}}, 100)
	require.ErrorIs(t, err, domain.ErrUpstream)
}
