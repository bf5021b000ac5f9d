package models

import (
	"strconv"

	"github.com/google/uuid"
)

// Document is a source text before splitting.
type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]string
}

var idNamespace = uuid.MustParse("6f1c2a52-3d0e-4f7b-9a51-0c7b4c1f9e21")

// DocumentID returns doc.ID, or a stable id derived from the URL and content.
func (d Document) DocumentID() string {
	if d.ID != "" {
		return d.ID
	}
	return uuid.NewSHA1(idNamespace, []byte(d.URL+"\x00"+d.Content)).String()
}

// ChunkID returns a stable id for the index-th chunk of a document.
func ChunkID(documentID string, index int, text string) string {
	return uuid.NewSHA1(idNamespace, []byte(documentID+"\x00"+strconv.Itoa(index)+"\x00"+text)).String()
}
