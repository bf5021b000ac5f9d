package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/aibots/internal/models"
	"github.com/xhad/aibots/internal/types"
	"github.com/xhad/aibots/pkg/processor"
)

func newWindow(t *testing.T, size, overlap int) *processor.Processor {
	t.Helper()
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    size,
		ChunkOverlap: overlap,
	})
	require.NoError(t, err)
	return p
}

func TestNewWithConfigRejectsBadOverlap(t *testing.T) {
	tests := []struct {
		name   string
		config processor.ProcessorConfig
	}{
		{"overlap equals size", processor.ProcessorConfig{ChunkSize: 10, ChunkOverlap: 10}},
		{"overlap exceeds size", processor.ProcessorConfig{ChunkSize: 10, ChunkOverlap: 20}},
		{"negative overlap", processor.ProcessorConfig{ChunkSize: 10, ChunkOverlap: -1}},
		{"negative size", processor.ProcessorConfig{ChunkSize: -5}},
		{"unknown splitter", processor.ProcessorConfig{Splitter: "markdown", ChunkSize: 10, ChunkOverlap: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := processor.NewWithConfig(tt.config)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestSplitTextShortDocumentIsOneChunk(t *testing.T) {
	p := newWindow(t, 500, 50)

	texts := []string{
		"a",
		"Acme Inc. support hours are 9am-6pm Monday through Friday.",
		strings.Repeat("x", 500),
		strings.Repeat("é", 500),
	}
	for _, text := range texts {
		chunks, err := p.SplitText(text)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0])
	}
}

func TestSplitTextEmpty(t *testing.T) {
	p := newWindow(t, 10, 2)

	chunks, err := p.SplitText("")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitTextWindows(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
	}{
		{"no overlap", 5, 0, "abcdefghijklmnopq"},
		{"small overlap", 10, 3, "The quick brown fox jumps over the lazy dog."},
		{"large overlap", 8, 7, "0123456789abcdef"},
		{"exact multiple", 4, 2, "abcdefgh"},
		{"multibyte", 6, 2, "ümlaut ñandú café 東京 overlap"},
		{"original defaults", 500, 50, strings.Repeat("Acme Inc. returns policy: 30 days. ", 60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newWindow(t, tt.size, tt.overlap)

			chunks, err := p.SplitText(tt.text)
			require.NoError(t, err)
			require.Greater(t, len(chunks), 1)

			for i, chunk := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), tt.size, "chunk %d too long", i)
				if i == 0 {
					continue
				}
				prev := []rune(chunks[i-1])
				cur := []rune(chunk)
				assert.Equal(t, string(prev[len(prev)-tt.overlap:]), string(cur[:tt.overlap]),
					"chunks %d and %d must share %d runes", i-1, i, tt.overlap)
			}

			// stitching chunks back together (dropping the overlap) gives the input
			var b strings.Builder
			b.WriteString(chunks[0])
			for _, chunk := range chunks[1:] {
				b.WriteString(string([]rune(chunk)[tt.overlap:]))
			}
			assert.Equal(t, tt.text, b.String())
		})
	}
}

func TestSplitTextDeterministic(t *testing.T) {
	p := newWindow(t, 7, 3)
	text := "Pricing for product X: $49 per seat per month"

	first, err := p.SplitText(text)
	require.NoError(t, err)
	second, err := p.SplitText(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecursiveSplitter(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		Splitter:     processor.SplitterRecursive,
		ChunkSize:    40,
		ChunkOverlap: 5,
	})
	require.NoError(t, err)

	short := "Acme Inc. support hours are 9am-6pm."
	chunks, err := p.SplitText(short)
	require.NoError(t, err)
	assert.Equal(t, []string{short}, chunks)

	long := strings.Repeat("word ", 40)
	chunks, err = p.SplitText(long)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 40)
	}
}

func TestProcessor_Process(t *testing.T) {
	p := newWindow(t, 20, 5)

	documents := []models.Document{
		{
			URL:      "demo://returns",
			Title:    "Returns",
			Content:  "Acme Inc. returns policy: customers can return items within 30 days.",
			Metadata: map[string]string{"lang": "en"},
		},
		{Content: "   \n\t "},
		{ID: "support", Content: "Support 9am-6pm."},
	}

	chunks, err := p.Process(documents)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	first := chunks[0]
	assert.Equal(t, "Acme Inc. returns po", first.PageContent)
	assert.Equal(t, "demo://returns", first.Metadata["source"])
	assert.Equal(t, "Returns", first.Metadata["title"])
	assert.Equal(t, "en", first.Metadata["lang"])
	assert.Equal(t, "0", first.Metadata["chunk_index"])
	assert.Equal(t, documents[0].DocumentID(), first.Metadata["document_id"])
	assert.Equal(t, "1", chunks[1].Metadata["chunk_index"])

	last := chunks[len(chunks)-1]
	assert.Equal(t, "Support 9am-6pm.", last.PageContent)
	assert.Equal(t, "support", last.Metadata["document_id"])
	assert.NotContains(t, last.Metadata, "source")
}
