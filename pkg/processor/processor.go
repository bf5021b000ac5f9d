package processor

import (
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/aibots/internal/models"
	"github.com/xhad/aibots/internal/types"
)

const (
	SplitterWindow    = "window"
	SplitterRecursive = "recursive"
)

type ProcessorConfig struct {
	Splitter     string
	ChunkSize    int
	ChunkOverlap int
}

// Processor splits documents into overlapping chunks. It satisfies
// textsplitter.TextSplitter.
type Processor struct {
	config    ProcessorConfig
	recursive textsplitter.TextSplitter
}

var _ textsplitter.TextSplitter = (*Processor)(nil)

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.Splitter == "" {
		config.Splitter = SplitterWindow
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkSize < 1 {
		return nil, types.Configurationf("chunk_size must be positive, got %d", config.ChunkSize)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, types.Configurationf("chunk_overlap %d must be non-negative and less than chunk_size %d",
			config.ChunkOverlap, config.ChunkSize)
	}

	p := &Processor{config: config}
	switch config.Splitter {
	case SplitterWindow:
	case SplitterRecursive:
		p.recursive = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		)
	default:
		return nil, types.Configurationf("unknown splitter %q", config.Splitter)
	}
	return p, nil
}

// SplitText splits text into chunks. Empty text yields no chunks.
func (p *Processor) SplitText(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	if p.recursive != nil {
		return p.recursive.SplitText(text)
	}
	return p.splitIntoChunks(text), nil
}

// Process splits every non-blank document and tags each chunk with its origin.
func (p *Processor) Process(docs []models.Document) ([]schema.Document, error) {
	var chunks []schema.Document

	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}

		texts, err := p.SplitText(doc.Content)
		if err != nil {
			return nil, err
		}

		docID := doc.DocumentID()
		for i, text := range texts {
			metadata := make(map[string]any, len(doc.Metadata)+4)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["document_id"] = docID
			metadata["chunk_index"] = strconv.Itoa(i)
			if doc.URL != "" {
				metadata["source"] = doc.URL
			}
			if doc.Title != "" {
				metadata["title"] = doc.Title
			}

			chunks = append(chunks, schema.Document{
				PageContent: text,
				Metadata:    metadata,
			})
		}
	}

	return chunks, nil
}

// splitIntoChunks cuts fixed rune windows. Every chunk but the last has exactly
// ChunkSize runes and consecutive chunks share exactly ChunkOverlap runes.
func (p *Processor) splitIntoChunks(text string) []string {
	runes := []rune(text)
	if len(runes) <= p.config.ChunkSize {
		return []string{text}
	}

	step := p.config.ChunkSize - p.config.ChunkOverlap
	var chunks []string
	for start := 0; ; start += step {
		end := min(start+p.config.ChunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}
