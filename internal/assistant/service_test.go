package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"persona-chat/internal/config"
	"persona-chat/internal/models"
	"persona-chat/internal/provider"
)

type staticSettings struct {
	cfg config.AIConfig
}

func (s staticSettings) Snapshot() config.AIConfig {
	return s.cfg.Clone()
}

func settingsFor(p provider.Provider, apiKey, model string) staticSettings {
	cfg := config.DefaultAIConfig()
	cfg.SelectedProvider = p
	cfg.ProviderConfigs[p] = config.ProviderConfig{APIKey: apiKey, Model: model}
	return staticSettings{cfg: cfg}
}

// ownership treats every persona as owned unless listed in notOwned
type ownership struct {
	notOwned map[string]bool
	err      error
}

func (o ownership) IsOwnedBy(_ context.Context, _, personaID string) (bool, error) {
	if o.err != nil {
		return false, o.err
	}
	return !o.notOwned[personaID], nil
}

type memorySessions struct {
	mu    sync.Mutex
	ids   map[string]string
	saved chan string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{ids: make(map[string]string), saved: make(chan string, 16)}
}

func (m *memorySessions) GetSessionID(_ context.Context, actorID, personaID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[sessionKey(actorID, personaID)], nil
}

func (m *memorySessions) SaveSessionID(_ context.Context, actorID, personaID, sessionID string) error {
	m.mu.Lock()
	m.ids[sessionKey(actorID, personaID)] = sessionID
	m.mu.Unlock()
	m.saved <- sessionID
	return nil
}

func (m *memorySessions) get(actorID, personaID string) string {
	id, _ := m.GetSessionID(context.Background(), actorID, personaID)
	return id
}

func fastMock() *MockResponder {
	return NewMockResponder(WithMockRuneDelay(0, 0), WithMockThinkDelay(0, 0))
}

func newTestService(settings ConfigSource, auth AuthorizationLookup, sessions SessionStore, opts ...ServiceOption) *Service {
	base := []ServiceOption{
		WithTokenDelay(0, 0),
		WithMockResponder(fastMock()),
		WithTimeout(5 * time.Second),
	}
	return NewService(settings, auth, sessions, append(base, opts...)...)
}

// tokenRecorder collects token callbacks
type tokenRecorder struct {
	mu     sync.Mutex
	tokens []string
}

func (r *tokenRecorder) onToken(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, text)
}

func (r *tokenRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	for _, line := range lines {
		fmt.Fprintf(w, "data: %s\n\n", line)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestGenerateStreamResponse_Coze(t *testing.T) {
	var gotQuery string
	var gotBody cozeBodyShape
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("conversation_id")
		if r.Header.Get("Authorization") != "Bearer pat_1" {
			t.Error("missing or invalid Authorization header")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w,
			`{"id":"chat_1","conversation_id":"conv_1","status":"created"}`,
			`{"type":"answer","content":"He"}`,
			`{"type":"answer","content":"Hello"}`,
			`{"type":"verbose","content":"{}"}`,
			`{"type":"answer","content":"Hello","time_cost":5,"created_at":123}`,
			`{"type":"follow_up","content":"More?"}`,
			`"[DONE]"`,
		)
	}))
	defer server.Close()

	sessions := newMemorySessions()
	svc := newTestService(settingsFor(provider.Coze, "pat_1", "bot_1"), ownership{}, sessions, WithEndpoint(provider.Coze, server.URL))

	var rec tokenRecorder
	persona := testPersona("p1", "Alice")
	result, err := svc.GenerateStreamResponse(context.Background(), "owner", persona, []models.Message{userMessage("hi")}, rec.onToken)

	require.NoError(t, err)
	assert.Equal(t, "Hello", result)
	assert.Equal(t, []string{"He", "Hello"}, rec.all())
	assert.Equal(t, "conv_1", sessions.get("owner", "p1"))
	assert.Empty(t, gotQuery)
	assert.Equal(t, "bot_1", gotBody.BotID)
	assert.Len(t, gotBody.AdditionalMessages, 2)
	assert.Equal(t, 0, svc.InFlight())
}

func TestGenerateStreamResponse_CozeSecondTurnUsesSession(t *testing.T) {
	var gotQuery string
	var gotBody cozeBodyShape
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("conversation_id")
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeSSE(w, `{"type":"answer","content":"Again","time_cost":1,"created_at":2}`, `"[DONE]"`)
	}))
	defer server.Close()

	sessions := newMemorySessions()
	require.NoError(t, sessions.SaveSessionID(context.Background(), "owner", "p1", "conv_1"))

	svc := newTestService(settingsFor(provider.Coze, "pat_1", "bot_1"), ownership{}, sessions, WithEndpoint(provider.Coze, server.URL))
	messages := []models.Message{userMessage("hi"), personaMessage("Hello"), userMessage("again?")}

	result, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), messages, nil)
	require.NoError(t, err)
	assert.Equal(t, "Again", result)
	assert.Equal(t, "conv_1", gotQuery)
	require.Len(t, gotBody.AdditionalMessages, 1)
	assert.Equal(t, "again?", gotBody.AdditionalMessages[0].Content)
}

func TestGenerateStreamResponse_SessionSavedBeforeCompletion(t *testing.T) {
	sessions := newMemorySessions()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"conversation_id":"abc123","status":"in_progress"}`)

		// hold the stream open until the id has been stored
		select {
		case <-sessions.saved:
		case <-time.After(2 * time.Second):
			t.Error("session id was not saved while the stream was open")
		}

		writeSSE(w, `{"type":"answer",`, `garbage`, `"[DONE]"`)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.Coze, "pat", "bot"), ownership{}, sessions, WithEndpoint(provider.Coze, server.URL))

	result, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", result)
	assert.Equal(t, "abc123", sessions.get("owner", "p1"))
}

func TestGenerateStreamResponse_HTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeSSE(w, `{"type":"answer","content":"should not be parsed"}`, `"[DONE]"`)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.Coze, "pat", "bot"), ownership{}, newMemorySessions(), WithEndpoint(provider.Coze, server.URL))

	var rec tokenRecorder
	_, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, rec.onToken)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Empty(t, rec.all())
	assert.Equal(t, 0, svc.InFlight())
}

func TestGenerate_MissingCredentialSendsNothing(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	for _, p := range []provider.Provider{provider.Coze, provider.OpenAI, provider.DeepSeek} {
		svc := newTestService(settingsFor(p, "", "model"), ownership{}, newMemorySessions(), WithEndpoint(p, server.URL))

		_, err := svc.GenerateResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")})
		assert.ErrorIs(t, err, ErrMissingCredential, "provider %s", p)
	}
	assert.Zero(t, hits.Load())
}

func TestGenerate_NotOwnedPersonaUsesMock(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	settings := settingsFor(provider.OpenAI, "sk-real", "gpt-4o-mini")
	tests := []struct {
		name string
		auth ownership
	}{
		{"not owned", ownership{notOwned: map[string]bool{"borrowed": true}}},
		{"lookup failure", ownership{err: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(settings, tt.auth, newMemorySessions(), WithEndpoint(provider.OpenAI, server.URL))
			persona := testPersona("borrowed", "Bob")

			result, err := svc.GenerateResponse(context.Background(), "someone", persona, []models.Message{userMessage("hi")})
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(result, mockDisclaimer))

			var rec tokenRecorder
			streamed, err := svc.GenerateStreamResponse(context.Background(), "someone", persona, nil, rec.onToken)
			require.NoError(t, err)
			tokens := rec.all()
			require.NotEmpty(t, tokens)
			assert.Equal(t, streamed, tokens[len(tokens)-1])

			assert.Equal(t, provider.OpenAI, settings.Snapshot().SelectedProvider)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestGenerate_OverrideDoesNotLeakAcrossCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"real"}}]}`)
	}))
	defer server.Close()

	auth := ownership{notOwned: map[string]bool{"borrowed": true}}
	svc := newTestService(settingsFor(provider.OpenAI, "sk", "gpt-4o-mini"), auth, newMemorySessions(), WithEndpoint(provider.OpenAI, server.URL))

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			got, err := svc.GenerateResponse(context.Background(), "owner", testPersona("own", "Alice"), []models.Message{userMessage("hi")})
			if err != nil {
				return err
			}
			if got != "real" {
				return fmt.Errorf("owned persona got %q", got)
			}
			return nil
		})
		g.Go(func() error {
			got, err := svc.GenerateResponse(context.Background(), "owner", testPersona("borrowed", "Bob"), []models.Message{userMessage("hi")})
			if err != nil {
				return err
			}
			if !strings.HasSuffix(got, mockDisclaimer) {
				return fmt.Errorf("borrowed persona got %q", got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestGenerateResponse_GenericSingleShot(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-ds", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c","choices":[{"index":0,"message":{"role":"assistant","content":"Hi from DeepSeek"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.DeepSeek, "sk-ds", "deepseek-chat"), ownership{}, newMemorySessions(), WithEndpoint(provider.DeepSeek, server.URL))

	var rec tokenRecorder
	result, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, rec.onToken)
	require.NoError(t, err)
	assert.Equal(t, "Hi from DeepSeek", result)
	assert.Empty(t, rec.all())
	assert.Equal(t, "deepseek-chat", gotBody["model"])
	assert.Len(t, gotBody["messages"], 2)
}

func TestGenerateResponse_GenericErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "structured error",
			body: `{"error":{"message":"Insufficient balance","type":"unknown_error"}}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "Insufficient balance", apiErr.Message)
				assert.Equal(t, "Insufficient balance", UserMessage(err))
			},
		},
		{
			name: "malformed",
			body: `{"choices": [`,
			check: func(t *testing.T, err error) {
				var malformed *MalformedResponseError
				require.ErrorAs(t, err, &malformed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			svc := newTestService(settingsFor(provider.OpenAI, "sk", "gpt-4o-mini"), ownership{}, newMemorySessions(), WithEndpoint(provider.OpenAI, server.URL))
			_, err := svc.GenerateResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")})
			tt.check(t, err)
		})
	}
}

func TestGenerateStreamResponse_GenericEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"content":"Good "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"morning"}}]}`,
			`[DONE]`,
		)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.OpenAI, "sk", "gpt-4o-mini"), ownership{}, newMemorySessions(), WithEndpoint(provider.OpenAI, server.URL))

	var rec tokenRecorder
	result, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, rec.onToken)
	require.NoError(t, err)
	assert.Equal(t, "Good morning", result)
	assert.Equal(t, []string{"Good ", "Good morning"}, rec.all())
}

// flakyTransport fails the first failures round trips before reaching the network
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestGenerate_RetriesTransportFailureOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"made it"}}]}`)
	}))
	defer server.Close()

	t.Run("second attempt succeeds", func(t *testing.T) {
		transport := &flakyTransport{failures: 1}
		svc := newTestService(settingsFor(provider.OpenAI, "sk", "m"), ownership{}, newMemorySessions(),
			WithEndpoint(provider.OpenAI, server.URL), WithHTTPClient(&http.Client{Transport: transport}))

		result, err := svc.GenerateResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")})
		require.NoError(t, err)
		assert.Equal(t, "made it", result)
		assert.Equal(t, int32(2), transport.calls.Load())
	})

	t.Run("both attempts fail", func(t *testing.T) {
		transport := &flakyTransport{failures: 5}
		svc := newTestService(settingsFor(provider.OpenAI, "sk", "m"), ownership{}, newMemorySessions(),
			WithEndpoint(provider.OpenAI, server.URL), WithHTTPClient(&http.Client{Transport: transport}))

		_, err := svc.GenerateResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")})
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, 2, transportErr.Attempts)
		assert.Equal(t, int32(2), transport.calls.Load())
	})

	assert.Equal(t, int32(1), hits.Load())
}

func TestGenerate_NoRetryOnHTTPStatus(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.OpenAI, "sk", "m"), ownership{}, newMemorySessions(), WithEndpoint(provider.OpenAI, server.URL))
	_, err := svc.GenerateResponse(context.Background(), "owner", testPersona("p1", "Alice"), nil)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "overloaded")
	assert.Equal(t, int32(1), hits.Load())
}

func TestGenerate_InvalidEndpoint(t *testing.T) {
	svc := newTestService(settingsFor(provider.OpenAI, "sk", "m"), ownership{}, newMemorySessions(), WithEndpoint(provider.OpenAI, "not a url"))
	_, err := svc.GenerateResponse(context.Background(), "owner", testPersona("p1", "Alice"), nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestGenerateStreamResponse_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"type":"answer","content":"first"}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.Coze, "pat", "bot"), ownership{}, newMemorySessions(), WithEndpoint(provider.Coze, server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec tokenRecorder
	_, err := svc.GenerateStreamResponse(ctx, "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, func(text string) {
		rec.onToken(text)
		cancel()
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"first"}, rec.all())
	assert.Equal(t, 0, svc.InFlight())
}

func TestGenerateStreamResponse_TimeoutIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.Coze, "pat", "bot"), ownership{}, newMemorySessions(),
		WithEndpoint(provider.Coze, server.URL), WithTimeout(100*time.Millisecond))

	_, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, nil)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, svc.InFlight())
}

func TestGenerateStreamResponse_MockTimeoutIsTransportError(t *testing.T) {
	mock := NewMockResponder(WithMockRuneDelay(20*time.Millisecond, 50*time.Millisecond))
	svc := newTestService(settingsFor(provider.Mock, "", ""), ownership{}, newMemorySessions(),
		WithMockResponder(mock), WithTimeout(100*time.Millisecond))

	var rec tokenRecorder
	_, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, rec.onToken)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.NotEmpty(t, rec.all())
	assert.Equal(t, 0, svc.InFlight())
}

func TestGenerateContent_MockSkipsPerRuneStreaming(t *testing.T) {
	mock := NewMockResponder(WithMockRuneDelay(time.Second, time.Second), WithMockThinkDelay(0, 0))
	svc := newTestService(settingsFor(provider.Mock, "", ""), ownership{}, newMemorySessions(), WithMockResponder(mock))

	start := time.Now()
	result, err := svc.GenerateContent(context.Background(), "owner", testPersona("p1", "Alice"), "Write a poem")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result, mockDisclaimer))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGenerateContent_UsesPromptAsUserMessage(t *testing.T) {
	var gotBody struct {
		Messages []models.WireMessage `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"A short poem"}}]}`)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.OpenAI, "sk", "m"), ownership{}, newMemorySessions(), WithEndpoint(provider.OpenAI, server.URL))

	result, err := svc.GenerateContent(context.Background(), "owner", testPersona("p1", "Alice"), "Write a poem")
	require.NoError(t, err)
	assert.Equal(t, "A short poem", result)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, models.WireMessage{Role: models.RoleUser, Content: "Write a poem"}, gotBody.Messages[1])
}

func TestGenerateStreamResponse_ConcurrentPersonasDoNotCrossDeliver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []models.WireMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		name := "unknown"
		if strings.Contains(body.Messages[0].Content, "You are Alice") {
			name = "alice"
		} else if strings.Contains(body.Messages[0].Content, "You are Bob") {
			name = "bob"
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 20; i++ {
			writeSSE(w, fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":"%s%d "}}]}`, name, i))
			time.Sleep(time.Millisecond)
		}
		writeSSE(w, `[DONE]`)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.OpenAI, "sk", "m"), ownership{}, newMemorySessions(),
		WithEndpoint(provider.OpenAI, server.URL), WithTokenDelay(0, 2*time.Millisecond))

	personas := map[string]models.Persona{
		"alice": testPersona("p-alice", "Alice"),
		"bob":   testPersona("p-bob", "Bob"),
	}
	recorders := map[string]*tokenRecorder{"alice": {}, "bob": {}}
	results := make(map[string]string)
	var resultsMu sync.Mutex

	g, ctx := errgroup.WithContext(context.Background())
	for name, persona := range personas {
		rec := recorders[name]
		g.Go(func() error {
			result, err := svc.GenerateStreamResponse(ctx, "owner", persona, []models.Message{userMessage("hi")}, rec.onToken)
			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			return err
		})
	}
	require.NoError(t, g.Wait())

	for name, rec := range recorders {
		other := "bob"
		if name == "bob" {
			other = "alice"
		}
		tokens := rec.all()
		require.Len(t, tokens, 20, name)
		for _, token := range tokens {
			assert.NotContains(t, token, other, "%s received a token for %s", name, other)
		}
		assert.True(t, strings.HasPrefix(results[name], name+"0 "))
	}
	assert.Equal(t, 0, svc.InFlight())
}

func TestGenerateStreamResponse_CozeSameSessionSerialized(t *testing.T) {
	var active, maxActive atomic.Int32
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}

		id := calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		writeSSE(w,
			fmt.Sprintf(`{"conversation_id":"conv_%d","status":"created"}`, id),
			`{"type":"answer","content":"ok","time_cost":1,"created_at":1}`,
			`"[DONE]"`,
		)
	}))
	defer server.Close()

	svc := newTestService(settingsFor(provider.Coze, "pat", "bot"), ownership{}, newMemorySessions(), WithEndpoint(provider.Coze, server.URL))

	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			_, err := svc.GenerateStreamResponse(context.Background(), "owner", testPersona("p1", "Alice"), []models.Message{userMessage("hi")}, nil)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxActive.Load())
}
