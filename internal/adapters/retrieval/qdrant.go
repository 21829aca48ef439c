package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the Qdrant gRPC address (e.g., "https://example.qdrant.io:6334").
	URL        string
	Collection string
	APIKey     string
}

// QdrantSearcher searches resume chunks stored in a Qdrant collection. Each
// point carries "candidate_id" and "content" in its payload.
type QdrantSearcher struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantSearcher(cfg QdrantConfig) (*QdrantSearcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	host, port, useTLS, err := parseAddr(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantSearcher{client: client, collection: cfg.Collection}, nil
}

func parseAddr(raw string) (host string, port int, useTLS bool, err error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port = 6334
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port: %w", err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

func (q *QdrantSearcher) Search(ctx context.Context, vector []float32, candidate domain.CandidateID, limit int) ([]Passage, error) {
	n := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &n,
		Filter:         candidateFilter(candidate),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	out := make([]Passage, 0, len(points))
	for _, p := range points {
		out = append(out, passageOf(p))
	}
	return out, nil
}

func (q *QdrantSearcher) Close() error {
	return q.client.Close()
}

func candidateFilter(candidate domain.CandidateID) *qdrant.Filter {
	if candidate == "" {
		return nil
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   "candidate_id",
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: string(candidate)}},
			},
		},
	}}}
}

func passageOf(p *qdrant.ScoredPoint) Passage {
	out := Passage{Score: p.Score}
	if p.Id != nil {
		if id := p.Id.GetUuid(); id != "" {
			out.ID = id
		} else {
			out.ID = strconv.FormatUint(p.Id.GetNum(), 10)
		}
	}
	if v, ok := p.Payload["content"]; ok {
		out.Content = v.GetStringValue()
	}
	return out
}
