package firestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

func TestDocRoundTripKeepsWholeSession(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &domain.Session{
		ID:            "s1",
		CandidateID:   "c1",
		Position:      "backend",
		CreatedAt:     created,
		UpdatedAt:     created.Add(20 * time.Minute),
		Phase:         domain.PhaseComplete,
		QuestionIndex: 3,
		MaxQuestions:  3,
		FollowUps:     map[string]int{"kafka": 2},
		History: []domain.Utterance{
			{Speaker: domain.RoleInterviewer, Text: "Tell me about Kafka", ReplyTo: -1},
			{Speaker: domain.RoleCandidate, Text: "We used it for billing", ReplyTo: 0},
		},
		ReportStatus: domain.ReportReady,
		Report:       &domain.Report{SessionID: "s1", AverageTotal: 17.5},
	}

	archivedAt := created.Add(time.Hour)
	doc, err := toDoc(s, archivedAt)
	require.NoError(t, err)

	assert.Equal(t, "c1", doc.CandidateID)
	assert.Equal(t, string(domain.PhaseComplete), doc.Phase)
	assert.Equal(t, 3, doc.Questions)
	assert.InDelta(t, 17.5, doc.AverageTotal, 1e-9)
	assert.Equal(t, "ready", doc.ReportStatus)
	assert.Equal(t, archivedAt, doc.ArchivedAt)
	assert.Equal(t, docSchemaVersion, doc.SchemaVersion)

	got, err := fromDoc("s1", doc)
	require.NoError(t, err)
	assert.Equal(t, s.History, got.History)
	assert.Equal(t, 2, got.FollowUps["kafka"])
	assert.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.Report)
	assert.InDelta(t, 17.5, got.Report.AverageTotal, 1e-9)
}

func TestFromDoc_FallsBackToDocumentID(t *testing.T) {
	got, err := fromDoc("from-ref", archivedDoc{Payload: `{"phase":"complete"}`})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("from-ref"), got.ID)

	_, err = fromDoc("bad", archivedDoc{Payload: "{"})
	assert.Error(t, err)
}

func TestNewArchive_RequiresProject(t *testing.T) {
	_, err := NewArchive(context.Background(), "")
	assert.Error(t, err)
}
