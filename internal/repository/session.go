package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("not found")

// MobileSession is a row in mobile_sessions.
type MobileSession struct {
	ID          string     `json:"id"`
	EncounterID string     `json:"encounterId"`
	PatientID   string     `json:"patientId"`
	FacilityID  string     `json:"facilityId"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Active reports whether uploads are still accepted at now.
func (s *MobileSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionRepository persists mobile pairing sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs a repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts sess and revokes every earlier session for the same
// encounter in one transaction.
func (r *SessionRepository) Create(ctx context.Context, sess *MobileSession) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		UPDATE mobile_sessions SET revoked_at=$1
		WHERE encounter_id=$2 AND revoked_at IS NULL
	`, now, sess.EncounterID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO mobile_sessions (id, encounter_id, patient_id, facility_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sess.ID, sess.EncounterID, sess.PatientID, sess.FacilityID, sess.ExpiresAt, sess.CreatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a session by token id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*MobileSession, error) {
	var sess MobileSession
	err := r.pool.QueryRow(ctx, `
		SELECT id, encounter_id, patient_id, facility_id, expires_at, revoked_at, created_at
		FROM mobile_sessions WHERE id=$1
	`, id).Scan(&sess.ID, &sess.EncounterID, &sess.PatientID, &sess.FacilityID, &sess.ExpiresAt, &sess.RevokedAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}
