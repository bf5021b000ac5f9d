package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xhad/aibots/internal/types"
	"github.com/xhad/aibots/pkg/llm"
	"github.com/xhad/aibots/pkg/processor"
	"github.com/xhad/aibots/pkg/rag"
	"github.com/xhad/aibots/pkg/store"
	"github.com/xhad/aibots/server"
)

type stubAnswerer struct {
	answer string
	err    error

	mu  sync.Mutex
	got []string
}

func (s *stubAnswerer) Ask(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, query)
	return s.answer, s.err
}

func (s *stubAnswerer) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func newTestServer(t *testing.T, answerer types.Answerer) *httptest.Server {
	t.Helper()
	s := server.New(answerer, server.Config{RequestTimeout: 5 * time.Second}, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubAnswerer{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status": "ok"}`, string(raw))
}

func TestAsk(t *testing.T) {
	answerer := &stubAnswerer{answer: "Within 30 days."}
	ts := newTestServer(t, answerer)

	status, body := post(t, ts.URL+"/ask", `{"query": "What is the return window?"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"answer": "Within 30 days."}`, body)
	assert.Equal(t, []string{"What is the return window?"}, answerer.queries())
}

func TestAskRejectsBadInput(t *testing.T) {
	answerer := &stubAnswerer{answer: "unused"}
	ts := newTestServer(t, answerer)

	for _, body := range []string{``, `not json`, `{}`, `{"query": "   "}`, `{"query": 42}`} {
		t.Run(body, func(t *testing.T) {
			status, resp := post(t, ts.URL+"/ask", body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, resp, "error")
		})
	}
	assert.Empty(t, answerer.queries())
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"configuration", types.Configurationf("OPENAI_API_KEY is required"), http.StatusInternalServerError},
		{"provider", types.NewProviderError("complete", errors.New("401 unauthorized")), http.StatusBadGateway},
		{"input", types.ErrInput, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubAnswerer{err: tt.err})
			status, body := post(t, ts.URL+"/ask", `{"query": "abc"}`)
			assert.Equal(t, tt.status, status)
			assert.Contains(t, body, tt.err.Error())
			assert.NotContains(t, body, `"answer"`)
		})
	}
}

func TestAskWithoutCredentialFails(t *testing.T) {
	proc, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)
	p := rag.New(proc, store.Config{}, nil)

	// A pipeline without a key cannot even be built, so a server started
	// with one never silently answers.
	_, err = p.BuildVectorStore(context.Background(), rag.DemoDocuments(), llm.EmbedderConfig{Provider: llm.ProviderOpenAI}, "")
	require.ErrorIs(t, err, types.ErrConfiguration)

	ts := newTestServer(t, &stubAnswerer{err: err})
	status, body := post(t, ts.URL+"/ask", `{"query": "abc"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "OPENAI_API_KEY is required")
}

func TestAskEndToEnd(t *testing.T) {
	ctx := context.Background()
	proc, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)
	p := rag.New(proc, store.Config{}, nil)

	vs, err := p.BuildVectorStore(ctx, rag.DemoDocuments(), llm.EmbedderConfig{Provider: llm.ProviderFake}, "")
	require.NoError(t, err)
	defer vs.Close()

	chain, err := p.BuildAnswerChain(vs, llm.ChatConfig{Provider: llm.ProviderFake}, 4)
	require.NoError(t, err)

	ts := newTestServer(t, chain)
	status, body := post(t, ts.URL+"/ask", `{"query": "What is the return window for Acme Inc.?"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "30 days")
}

func TestWebSocketAsk(t *testing.T) {
	ts := newTestServer(t, &stubAnswerer{answer: "9am-6pm"})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageAsk, Content: "support hours?"}))
	var reply server.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, server.Message{Type: server.MessageResponse, Content: "9am-6pm"}, reply)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "subscribe"}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, server.MessageError, reply.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, server.Message{Type: server.MessageError, Content: "invalid message"}, reply)
}

func TestWebSocketReportsErrors(t *testing.T) {
	ts := newTestServer(t, &stubAnswerer{err: types.NewProviderError("complete", errors.New("timeout"))})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageAsk, Content: "abc"}))
	var reply server.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, server.MessageError, reply.Type)
	assert.Contains(t, reply.Content, "timeout")
}

func TestAddr(t *testing.T) {
	s := server.New(&stubAnswerer{}, server.Config{Host: "127.0.0.1", Port: 8000}, nil)
	assert.Equal(t, "127.0.0.1:8000", s.Addr())
}

func TestStartAndShutdown(t *testing.T) {
	s := server.New(&stubAnswerer{}, server.Config{Host: "127.0.0.1", Port: 0}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
