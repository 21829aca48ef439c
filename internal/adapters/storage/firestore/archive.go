package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

const archiveCollection = "archived_sessions"

// Archive is the long-term home of finished sessions.
type Archive struct {
	client *firestore.Client
}

// NewArchive creates a Firestore archive.
// Uses the project passed (MOCKINTERVIEW_GCP_PROJECT).
func NewArchive(ctx context.Context, projectID string) (*Archive, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore archive")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Archive{client: client}, nil
}

func (a *Archive) Close() error {
	return a.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (a *Archive) sessionsCol() *firestore.CollectionRef {
	return a.client.Collection(archiveCollection)
}

func (a *Archive) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return a.sessionsCol().Doc(string(id))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

// archivedDoc keeps the queryable fields flat and the full session as JSON,
// so new session fields never need a document migration.
type archivedDoc struct {
	CandidateID   string    `firestore:"candidate_id"`
	Position      string    `firestore:"position"`
	Phase         string    `firestore:"phase"`
	Questions     int       `firestore:"questions"`
	AverageTotal  float64   `firestore:"average_total"`
	ReportStatus  string    `firestore:"report_status"`
	CreatedAt     time.Time `firestore:"created_at"`
	UpdatedAt     time.Time `firestore:"updated_at"`
	ArchivedAt    time.Time `firestore:"archived_at"`
	SchemaVersion int       `firestore:"schema_version"`
	Payload       string    `firestore:"payload"`
}

const docSchemaVersion = 1

func toDoc(s *domain.Session, now time.Time) (archivedDoc, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return archivedDoc{}, fmt.Errorf("encode session: %w", err)
	}

	doc := archivedDoc{
		CandidateID:   string(s.CandidateID),
		Position:      s.Position,
		Phase:         string(s.Phase),
		Questions:     s.QuestionIndex,
		ReportStatus:  string(s.ReportStatus),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		ArchivedAt:    now,
		SchemaVersion: docSchemaVersion,
		Payload:       string(payload),
	}
	if s.Report != nil {
		doc.AverageTotal = s.Report.AverageTotal
	}
	return doc, nil
}

func fromDoc(id string, doc archivedDoc) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal([]byte(doc.Payload), &s); err != nil {
		return nil, fmt.Errorf("decode archived session %s: %w", id, err)
	}
	if s.ID == "" {
		s.ID = domain.SessionID(id)
	}
	return &s, nil
}

// ─────────────────────────────────────────
// SessionArchive implementation
// ─────────────────────────────────────────

// Archive overwrites any earlier copy of the same session.
func (a *Archive) Archive(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return nil
	}

	doc, err := toDoc(s, time.Now().UTC())
	if err != nil {
		return err
	}

	if _, err := a.sessionDoc(s.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore Archive: %w", err)
	}
	return nil
}

func (a *Archive) GetArchived(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	snap, err := a.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetArchived: %w", err)
	}

	var doc archivedDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetArchived decode: %w", err)
	}
	return fromDoc(snap.Ref.ID, doc)
}

// ListArchivedByCandidate returns the newest `limit` sessions of a candidate,
// oldest first. If limit <= 0, returns all.
func (a *Archive) ListArchivedByCandidate(ctx context.Context, candidate domain.CandidateID, limit int) ([]*domain.Session, error) {
	q := a.sessionsCol().Where("candidate_id", "==", string(candidate)).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListArchivedByCandidate: %w", err)
		}

		var doc archivedDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode archivedDoc: %w", err)
		}
		s, err := fromDoc(snap.Ref.ID, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	reverse(out)
	if out == nil {
		out = []*domain.Session{}
	}
	return out, nil
}

func reverse(s []*domain.Session) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
