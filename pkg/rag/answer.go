package rag

import "fmt"

// Result is the raw output of the completion step. It is either PlainText or
// Structured.
type Result interface {
	isResult()
}

// PlainText is a completion that arrived as a single string.
type PlainText string

// Structured is a completion that arrived as a keyed mapping, such as the
// output values of a chain.
type Structured map[string]any

func (PlainText) isResult()  {}
func (Structured) isResult() {}

// answerKeys are tried in order; the first string value wins.
var answerKeys = []string{"result", "output_text", "text", "answer"}

// Extract normalizes a completion result into the answer string. Plain text is
// returned verbatim. For a structured result the first answer key holding a
// string is returned, and failing that the whole mapping is rendered.
func Extract(r Result) string {
	switch v := r.(type) {
	case PlainText:
		return string(v)
	case Structured:
		for _, key := range answerKeys {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
		return fmt.Sprint(map[string]any(v))
	default:
		return ""
	}
}
