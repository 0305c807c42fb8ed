package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on database/sql (pgx stdlib driver).
//
// Expected tables:
//   recipients(id, name, phone, status, source, created_at)
//   calls(id, recipient_id, provider, provider_call_id, status,
//         started_at, ended_at, duration_seconds, transcript, summary,
//         recording_url, reason, version)
//
// Status updates use a version column instead of row locks so that
// duplicate webhook deliveries and concurrent dispatchers serialize
// per call.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const recipientCols = `id, name, phone, status, COALESCE(source, ''), created_at`

func (s *PostgresStore) ListEligibleRecipients(ctx context.Context, limit int) ([]Recipient, error) {
	q := `
SELECT ` + recipientCols + `
FROM recipients
WHERE status IN ('new', 'queued')
ORDER BY created_at ASC, id ASC
`
	args := []any{}
	if limit > 0 {
		q += "LIMIT $1\n"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Recipient, 0)
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Status, &r.Source, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	const q = `
SELECT ` + recipientCols + `
FROM recipients
WHERE id = $1
`
	var r Recipient
	err := s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.Name, &r.Phone, &r.Status, &r.Source, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, err
	}
	return r, nil
}

func (s *PostgresStore) ClaimRecipient(ctx context.Context, id string) (bool, error) {
	// The status predicate makes the claim conditional; a concurrent
	// dispatcher that already claimed the row sees zero rows affected.
	const q = `
UPDATE recipients
SET status = 'calling'
WHERE id = $1 AND status IN ('new', 'queued')
`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish "gone" from "no longer eligible".
		if _, err := s.GetRecipient(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) UpdateRecipientStatus(ctx context.Context, id string, status RecipientStatus) (Recipient, error) {
	const q = `
UPDATE recipients
SET status = $2
WHERE id = $1
RETURNING ` + recipientCols + `
`
	var r Recipient
	err := s.db.QueryRowContext(ctx, q, id, status).Scan(&r.ID, &r.Name, &r.Phone, &r.Status, &r.Source, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, err
	}
	return r, nil
}

const callCols = `id, recipient_id, provider, COALESCE(provider_call_id, ''), status,
       started_at, ended_at, COALESCE(duration_seconds, 0), COALESCE(transcript, ''),
       COALESCE(summary, ''), COALESCE(recording_url, ''), COALESCE(reason, ''), version`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	var endedAt sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.RecipientID,
		&c.Provider,
		&c.ProviderCallID,
		&c.Status,
		&c.StartedAt,
		&endedAt,
		&c.DurationSeconds,
		&c.Transcript,
		&c.Summary,
		&c.RecordingURL,
		&c.Reason,
		&c.Version,
	)
	if err != nil {
		return Call{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallStatusInitiated
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO calls (id, recipient_id, provider, provider_call_id, status, started_at, version)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 1)
RETURNING ` + callCols + `
`
	return scanCall(s.db.QueryRowContext(ctx, q, c.ID, c.RecipientID, c.Provider, c.ProviderCallID, c.Status, c.StartedAt))
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (Call, error) {
	const q = `
SELECT ` + callCols + `
FROM calls
WHERE id = $1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) GetCallByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	const q = `
SELECT ` + callCols + `
FROM calls
WHERE provider_call_id = $1
ORDER BY started_at DESC
LIMIT 1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) UpdateCallStatus(ctx context.Context, id string, expectedVersion int64, status CallStatus, f TransitionFields) (Call, error) {
	const q = `
UPDATE calls
SET status           = $3,
    provider_call_id = COALESCE(NULLIF($4, ''), provider_call_id),
    transcript       = COALESCE(NULLIF($5, ''), transcript),
    summary          = COALESCE(NULLIF($6, ''), summary),
    recording_url    = COALESCE(NULLIF($7, ''), recording_url),
    reason           = COALESCE(NULLIF($8, ''), reason),
    duration_seconds = CASE WHEN $9 > 0 THEN $9 ELSE duration_seconds END,
    ended_at         = COALESCE($10, ended_at),
    version          = version + 1
WHERE id = $1 AND version = $2
RETURNING ` + callCols + `
`
	var endedAt any
	if !f.EndedAt.IsZero() {
		endedAt = f.EndedAt
	}
	c, err := scanCall(s.db.QueryRowContext(ctx, q,
		id,
		expectedVersion,
		status,
		f.ProviderCallID,
		f.Transcript,
		f.Summary,
		f.RecordingURL,
		f.Reason,
		f.DurationSeconds,
		endedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// Either the row is gone or the version moved under us.
		if _, getErr := s.GetCall(ctx, id); getErr != nil {
			return Call{}, getErr
		}
		return Call{}, ErrConflict
	}
	return c, err
}

func (s *PostgresStore) CountCallsByStatus(ctx context.Context, status CallStatus) (int, error) {
	const q = `SELECT COUNT(*) FROM calls WHERE status = $1`
	var n int
	if err := s.db.QueryRowContext(ctx, q, status).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	const q = `
SELECT
  (SELECT COUNT(*) FROM recipients),
  COUNT(*),
  COUNT(*) FILTER (WHERE status = 'completed'),
  COUNT(*) FILTER (WHERE status IN ('failed', 'no-answer')),
  COUNT(*) FILTER (WHERE status IN ('initiated', 'calling'))
FROM calls
`
	var st Stats
	err := s.db.QueryRowContext(ctx, q).Scan(
		&st.TotalRecipients,
		&st.TotalCalls,
		&st.CompletedCalls,
		&st.FailedCalls,
		&st.ActiveCalls,
	)
	if err != nil {
		return Stats{}, err
	}
	if st.TotalCalls > 0 {
		st.SuccessRate = st.CompletedCalls * 100 / st.TotalCalls
	}
	return st, nil
}
