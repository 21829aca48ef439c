// Package emotion adapts emotion-recognition services to the sampler port.
package emotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// ErrBadResponse is returned when the service reply has no usable scores.
var ErrBadResponse = errors.New("emotion service returned no scores")

// HTTPSampler calls an external emotion-recognition service over HTTP.
type HTTPSampler struct {
	client *resty.Client
	now    func() time.Time
}

func NewHTTPSampler(baseURL, apiKey string, timeout time.Duration) *HTTPSampler {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &HTTPSampler{client: c, now: time.Now}
}

type sampleBody struct {
	SessionID string `json:"session_id"`
	Frame     []byte `json:"frame,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Sample implements domain.EmotionSampler. Scores are renormalized over the
// known categories; unknown categories are ignored.
func (s *HTTPSampler) Sample(ctx context.Context, req domain.SampleRequest) (domain.EmotionSignal, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sampleBody{SessionID: string(req.SessionID), Frame: req.Frame, Text: req.Text}).
		Post("/v1/emotion")
	if err != nil {
		return domain.EmotionSignal{}, fmt.Errorf("emotion request: %w", err)
	}
	if resp.IsError() {
		return domain.EmotionSignal{}, fmt.Errorf("emotion service: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	return parseSignal(resp.Body(), s.now().UTC())
}

func parseSignal(body []byte, at time.Time) (domain.EmotionSignal, error) {
	scores := gjson.GetBytes(body, "scores")
	if !scores.IsObject() {
		// some deployments wrap the result
		scores = gjson.GetBytes(body, "result.scores")
	}
	if !scores.IsObject() {
		return domain.EmotionSignal{}, ErrBadResponse
	}

	sig := domain.EmotionSignal{Scores: make(map[domain.Emotion]float64, len(domain.Emotions)), At: at}
	var sum float64
	for _, em := range domain.Emotions {
		v := scores.Get(string(em)).Float()
		if v < 0 {
			v = 0
		}
		sig.Scores[em] = v
		sum += v
	}
	if sum == 0 {
		return domain.EmotionSignal{}, ErrBadResponse
	}

	for _, em := range domain.Emotions {
		sig.Scores[em] /= sum
		if sig.Dominant == "" || sig.Scores[em] > sig.Scores[sig.Dominant] {
			sig.Dominant = em
		}
	}
	return sig, nil
}
