package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// ErrMalformedEvaluation is returned when the model reply is not the JSON
// object the scoring prompt asks for.
var ErrMalformedEvaluation = errors.New("malformed evaluation")

var subScores = []string{"specificity", "logic", "technical", "structure", "communication"}

// ParseEvaluation extracts an Evaluation from a model reply. Replies wrapped
// in a markdown code fence are accepted; sub-scores are clamped to [1,5].
func ParseEvaluation(text string) (domain.Evaluation, error) {
	raw := stripFence(text)
	if !gjson.Valid(raw) {
		return domain.Evaluation{}, fmt.Errorf("%w: not JSON", ErrMalformedEvaluation)
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return domain.Evaluation{}, fmt.Errorf("%w: not an object", ErrMalformedEvaluation)
	}

	for _, k := range subScores {
		if !doc.Get(k).Exists() {
			return domain.Evaluation{}, fmt.Errorf("%w: missing %s", ErrMalformedEvaluation, k)
		}
	}

	ev := domain.Evaluation{
		Specificity:         int(doc.Get("specificity").Int()),
		Logic:               int(doc.Get("logic").Int()),
		Technical:           int(doc.Get("technical").Int()),
		Structure:           int(doc.Get("structure").Int()),
		Communication:       int(doc.Get("communication").Int()),
		Feedback:            strings.TrimSpace(doc.Get("feedback").String()),
		Strengths:           stringList(doc.Get("strengths")),
		Improvements:        stringList(doc.Get("improvements")),
		FollowUpRecommended: doc.Get("follow_up_recommended").Bool(),
	}
	ev.Normalize()
	return ev, nil
}

func stringList(r gjson.Result) []string {
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// stripFence removes a ```json ... ``` wrapper and any prose around the
// outermost object.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	t = strings.TrimSpace(t)

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1]
	}
	return t
}
