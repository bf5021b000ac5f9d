package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/aibots/pkg/llm"
	"github.com/xhad/aibots/pkg/store"
)

// testEnv isolates a command from the developer's environment and config files.
func testEnv(t *testing.T, fake bool) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "LLM_PROVIDER", "USE_FAKE", "OPENAI_API_KEY", "OPENAI_MODEL",
		"OPENAI_BASE_URL", "OLLAMA_BASE_URL", "CHROMA_PERSIST_DIR", "PERSIST_DIR",
		"VECTOR_STORE", "DATABASE_URL", "PORT",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	if fake {
		t.Setenv("USE_FAKE", "1")
	}
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	testEnv(t, true)

	code, _, stderr := runCmd(t)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "Usage:")

	code, _, stderr = runCmd(t, "frobnicate")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, stdout, _ := runCmd(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, version+"\n", stdout)
}

func TestAsk(t *testing.T) {
	testEnv(t, true)

	code, stdout, stderr := runCmd(t, "ask", "What is the return window for Acme Inc.?")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "30 days")
}

func TestAskWithSources(t *testing.T) {
	testEnv(t, true)

	code, stdout, stderr := runCmd(t, "ask", "--sources", "What", "are", "the", "support", "hours?")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "9am-6pm")
	assert.Contains(t, stdout, "[1]")
}

func TestAskRequiresQuery(t *testing.T) {
	testEnv(t, true)

	code, _, stderr := runCmd(t, "ask")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "ask requires a query")
}

func TestMissingKeyIsAConfigurationError(t *testing.T) {
	testEnv(t, false)

	for _, args := range [][]string{{"ingest"}, {"ask", "abc"}, {"serve"}} {
		t.Run(args[0], func(t *testing.T) {
			code, stdout, stderr := runCmd(t, args...)
			assert.Equal(t, exitConfig, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "OPENAI_API_KEY is required")
		})
	}
}

func TestBadConfigFile(t *testing.T) {
	testEnv(t, true)

	code, _, _ := runCmd(t, "ask", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "abc")
	assert.Equal(t, exitConfig, code)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processor:\n  chunk_size: 10\n  chunk_overlap: 20\n"), 0644))
	code, _, stderr := runCmd(t, "ingest", "--config", path)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "chunk_overlap")
}

func TestIngest(t *testing.T) {
	testEnv(t, true)

	code, stdout, stderr := runCmd(t, "ingest")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Ingested 3 documents, store holds 3 chunks")
	assert.NotContains(t, stdout, "Persisted")
}

func TestIngestPersistRequiresDir(t *testing.T) {
	testEnv(t, true)

	code, _, stderr := runCmd(t, "ingest", "--persist")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "PERSIST_DIR")
}

func TestIngestPersistThenReopen(t *testing.T) {
	testEnv(t, true)
	dir := filepath.Join(t.TempDir(), "vectors")
	t.Setenv("PERSIST_DIR", dir)

	code, stdout, stderr := runCmd(t, "ingest", "--persist")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Persisted to "+dir)
	require.True(t, store.Exists(dir))

	// Reopen the directory directly, as a separate process would.
	ctx := context.Background()
	vs, err := store.OpenSQLite(dir, llm.NewFakeEmbedder(1536))
	require.NoError(t, err)
	results, err := vs.SimilaritySearch(ctx, "support hours", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].PageContent, "9am-6pm")
	require.NoError(t, vs.Close())

	// ask reuses the persisted store.
	code, stdout, stderr = runCmd(t, "ask", "--sources", "support hours")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "9am-6pm")

	// Ingesting again upserts rather than duplicating.
	code, stdout, stderr = runCmd(t, "ingest", "--persist")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "store holds 3 chunks")
}

func TestIngestURL(t *testing.T) {
	testEnv(t, true)

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Shipping</title></head><body><main>Acme ships orders within 2 business days.</main></body></html>`))
	}))
	defer site.Close()

	code, stdout, stderr := runCmd(t, "ingest", "--url", site.URL)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Ingested 4 documents, store holds 4 chunks")
}

func TestServeRejectsBadAddr(t *testing.T) {
	testEnv(t, true)

	code, _, stderr := runCmd(t, "serve", "--addr", "nonsense")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "invalid --addr")
}

// syncBuffer lets the test read output while serve is still writing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeStopsOnCancel(t *testing.T) {
	testEnv(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"serve", "--addr", "127.0.0.1:0"}, &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Listening on 127.0.0.1:0")
	}, 10*time.Second, 10*time.Millisecond, stderr.String())
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, exitOK, code, stderr.String())
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}
