package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// FakeEmbedder produces deterministic hashed bag-of-words vectors, so texts
// sharing words score a positive cosine similarity. No network access.
type FakeEmbedder struct {
	dimensions int
}

var _ embeddings.Embedder = (*FakeEmbedder)(nil)

func NewFakeEmbedder(dimensions int) *FakeEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &FakeEmbedder{dimensions: dimensions}
}

func (e *FakeEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *FakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	for word := range wordSet(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(e.dimensions)]++
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

const fakeUnknownAnswer = "I don't know."

// FakeLLM is a deterministic completion model. Given a prompt with a
// "Context:" section followed by a "Question:" line, it answers with the
// context line sharing the most words with the question.
type FakeLLM struct{}

var _ llms.Model = (*FakeLLM)(nil)

func NewFakeLLM() *FakeLLM {
	return &FakeLLM{}
}

func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prompt strings.Builder
	for _, message := range messages {
		for _, part := range message.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
				prompt.WriteString("\n")
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: answerFromPrompt(prompt.String()), StopReason: "stop"},
		},
	}, nil
}

func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func answerFromPrompt(prompt string) string {
	lines := strings.Split(prompt, "\n")

	contextAt, questionAt := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if contextAt < 0 && trimmed == "Context:" {
			contextAt = i
		}
		if strings.HasPrefix(trimmed, "Question:") {
			questionAt = i
		}
	}
	if contextAt < 0 || questionAt <= contextAt {
		return fakeUnknownAnswer
	}

	question := wordSet(strings.TrimPrefix(strings.TrimSpace(lines[questionAt]), "Question:"))

	best, bestScore := "", 0
	for _, line := range lines[contextAt+1 : questionAt] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		score := 0
		for word := range wordSet(line) {
			if _, ok := question[word]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = line, score
		}
	}
	if bestScore == 0 {
		return fakeUnknownAnswer
	}
	return best
}

func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		if _, stop := stopwords[word]; stop {
			continue
		}
		set[word] = struct{}{}
	}
	return set
}

// Common English stopwords
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "can": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "he": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"will": {}, "with": {},
}
