package knowledge

import (
	"context"

	"github.com/suPer8Hu/autoreply-agent/internal/agent"
)

const (
	DefaultMaxDocs  = 5
	DefaultMaxChars = 2000
)

// Document is a knowledge file trimmed for prompt use.
type Document struct {
	Name    string
	Content string
}

type FileLister interface {
	ListKnowledgeFiles(ctx context.Context, agentID uint64, limit int) ([]agent.KnowledgeFile, error)
}

// Retriever picks the most recent knowledge files of an agent and truncates
// each to maxChars runes.
type Retriever struct {
	files    FileLister
	maxDocs  int
	maxChars int
}

func NewRetriever(files FileLister, maxDocs, maxChars int) *Retriever {
	if maxDocs <= 0 || maxDocs > DefaultMaxDocs {
		maxDocs = DefaultMaxDocs
	}
	if maxChars <= 0 || maxChars > DefaultMaxChars {
		maxChars = DefaultMaxChars
	}
	return &Retriever{files: files, maxDocs: maxDocs, maxChars: maxChars}
}

func (r *Retriever) Retrieve(ctx context.Context, agentID uint64) ([]Document, error) {
	files, err := r.files.ListKnowledgeFiles(ctx, agentID, r.maxDocs)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(files))
	for _, f := range files {
		docs = append(docs, Document{Name: f.FileName, Content: Truncate(f.FileContent, r.maxChars)})
	}
	return docs, nil
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
