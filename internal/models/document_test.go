package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentID(t *testing.T) {
	doc := Document{URL: "https://example.com", Content: "hello"}
	assert.Equal(t, doc.DocumentID(), doc.DocumentID())
	assert.NotEqual(t, doc.DocumentID(), Document{URL: "https://example.com", Content: "bye"}.DocumentID())

	doc.ID = "fixed"
	assert.Equal(t, "fixed", doc.DocumentID())
}

func TestChunkID(t *testing.T) {
	a := ChunkID("doc", 0, "text")
	assert.Equal(t, a, ChunkID("doc", 0, "text"))
	assert.NotEqual(t, a, ChunkID("doc", 1, "text"))
	assert.NotEqual(t, a, ChunkID("other", 0, "text"))
}
