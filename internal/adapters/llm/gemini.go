package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// Options selects the backend and models. With a project the client talks
// to Vertex AI; otherwise APIKey selects the Gemini API.
type Options struct {
	Project        string
	Location       string
	APIKey         string
	BaseURL        string // overrides the endpoint, for tests and proxies
	ChatModel      string
	ScoringModel   string
	EmbeddingModel string
}

type GeminiClient struct {
	client         *genai.Client
	chatModel      string
	scoringModel   string
	embeddingModel string
}

// NewGeminiClient creates a client that serves generation, scoring and
// embeddings.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{}
	switch {
	case opts.Project != "":
		if opts.Location == "" {
			return nil, fmt.Errorf("vertex AI requires a location")
		}
		cfg.Project = opts.Project
		cfg.Location = opts.Location
		cfg.Backend = genai.BackendVertexAI
	case opts.APIKey != "":
		cfg.APIKey = opts.APIKey
		cfg.Backend = genai.BackendGeminiAPI
	default:
		return nil, fmt.Errorf("either a GCP project or a Gemini API key must be set")
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	g := &GeminiClient{
		client:         client,
		chatModel:      opts.ChatModel,
		scoringModel:   opts.ScoringModel,
		embeddingModel: opts.EmbeddingModel,
	}
	if g.chatModel == "" {
		g.chatModel = "gemini-2.5-flash-lite"
	}
	if g.scoringModel == "" {
		g.scoringModel = g.chatModel
	}
	if g.embeddingModel == "" {
		g.embeddingModel = "text-embedding-004"
	}
	return g, nil
}

// GenerateNext implements domain.UtteranceGenerator.
func (g *GeminiClient) GenerateNext(ctx context.Context, req domain.GenerateRequest) (string, error) {
	p := BuildGeneratePrompt(req)

	temp := float32(0.7)
	topP := float32(0.9)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   512,
	}

	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}
	res, err := g.client.Models.GenerateContent(ctx, g.chatModel, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", errors.New("gemini returned empty text")
	}
	return text, nil
}

// Score implements domain.AnswerScorer. The model is asked for JSON and the
// reply is parsed with ParseEvaluation.
func (g *GeminiClient) Score(ctx context.Context, req domain.ScoreRequest) (domain.Evaluation, error) {
	p := BuildScoringPrompt(req)

	temp := float32(0.1)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   1024,
		ResponseMIMEType:  "application/json",
	}

	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}
	res, err := g.client.Models.GenerateContent(ctx, g.scoringModel, contents, cfg)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("gemini score answer: %w", err)
	}
	return ParseEvaluation(res.Text())
}

// Embed implements domain.Embedder.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	res, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini returned no embedding")
	}
	return res.Embeddings[0].Values, nil
}
