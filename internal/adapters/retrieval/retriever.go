// Package retrieval finds resume excerpts relevant to the next question.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// Passage is one stored resume chunk.
type Passage struct {
	ID      string
	Score   float32
	Content string
}

// Searcher runs a similarity search restricted to one candidate.
type Searcher interface {
	Search(ctx context.Context, vector []float32, candidate domain.CandidateID, limit int) ([]Passage, error)
}

// Retriever implements domain.ContextRetriever by embedding the query and
// searching the candidate's resume chunks.
type Retriever struct {
	embedder domain.Embedder
	searcher Searcher
	minScore float32
}

func NewRetriever(embedder domain.Embedder, searcher Searcher, minScore float32) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher, minScore: minScore}
}

func (r *Retriever) Retrieve(ctx context.Context, candidate domain.CandidateID, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	passages, err := r.searcher.Search(ctx, vec, candidate, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(passages))
	out := make([]string, 0, len(passages))
	for _, p := range passages {
		text := strings.TrimSpace(p.Content)
		if text == "" || p.Score < r.minScore {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
