package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no agreement row exists for the identifier.
	ErrNotFound = errors.New("agreement: not found")
	// ErrSignerNotFound is returned when the signer id does not exist within the agreement.
	ErrSignerNotFound = errors.New("agreement: signer not found")
	// ErrDuplicateSigner signals a signer with the same email is already attached.
	ErrDuplicateSigner = errors.New("agreement: signer email already exists")
	// ErrAlreadySigned signals the signer has already recorded a signature.
	ErrAlreadySigned = errors.New("agreement: signer already signed")
	// ErrInvalidState signals the operation is not permitted in the current status.
	ErrInvalidState = errors.New("agreement: operation not allowed in current status")
	// ErrStaleRevision signals a concurrent writer bumped the revision first.
	ErrStaleRevision = errors.New("agreement: revision conflict")
)

// Repository is the pgx-backed data access layer for agreements. Reads go
// through the pool; mutations take the caller's transaction so services
// control commit boundaries.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const agreementColumns = `id, title, content, status, created_by, signer_emails, revision, pdf_url, created_at, last_modified`

// GetAgreement loads an agreement and its signers ordered by position.
func (r *Repository) GetAgreement(ctx context.Context, id string) (Agreement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, id)
	ag, err := scanAgreement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}

	signers, err := r.loadSigners(ctx, r.pool, id)
	if err != nil {
		return Agreement{}, err
	}
	ag.Signers = signers
	return ag, nil
}

// GetAgreementForUpdate locks the agreement row for the duration of the
// transaction and loads its signers afterwards, so all mutations observing
// the lock see a consistent signer set.
func (r *Repository) GetAgreementForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	row := tx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1 FOR UPDATE`, id)
	ag, err := scanAgreement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: lock: %w", err)
	}

	signers, err := r.loadSigners(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}
	ag.Signers = signers
	return ag, nil
}

// InsertAgreement creates a draft agreement row. The creator signer row is
// inserted separately so position bookkeeping lives in one place.
func (r *Repository) InsertAgreement(ctx context.Context, tx pgx.Tx, title, content, createdBy string) (Agreement, error) {
	const insertSQL = `
		INSERT INTO agreements (title, content, status, created_by)
		VALUES ($1, $2, 'draft', $3)
		RETURNING ` + agreementColumns

	ag, err := scanAgreement(tx.QueryRow(ctx, insertSQL, title, content, createdBy))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: insert: %w", err)
	}
	return ag, nil
}

// InsertSigner attaches a signer row at the given position.
func (r *Repository) InsertSigner(ctx context.Context, tx pgx.Tx, agreementID string, s Signer) error {
	const insertSQL = `
		INSERT INTO signers (id, agreement_id, position, name, email, role, signed)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`
	if _, err := tx.Exec(ctx, insertSQL, s.ID, agreementID, s.Position, s.Name, s.Email, s.Role); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSigner
		}
		return fmt.Errorf("agreement: insert signer: %w", err)
	}
	return nil
}

// InsertSignerAfterCreator shifts every non-creator signer down one position
// and inserts the new signer at position 1. The position uniqueness
// constraint is deferred, so the shift and insert settle at commit.
func (r *Repository) InsertSignerAfterCreator(ctx context.Context, tx pgx.Tx, agreementID string, s Signer) error {
	if _, err := tx.Exec(ctx,
		`UPDATE signers SET position = position + 1 WHERE agreement_id = $1 AND position >= 1`,
		agreementID,
	); err != nil {
		return fmt.Errorf("agreement: shift signer positions: %w", err)
	}

	s.Position = 1
	return r.InsertSigner(ctx, tx, agreementID, s)
}

// RefreshProjection recomputes signer_emails from the signer rows and bumps
// last_modified and revision. Must run in every transaction that touches
// the signer set.
func (r *Repository) RefreshProjection(ctx context.Context, tx pgx.Tx, agreementID string) error {
	const updateSQL = `
		UPDATE agreements
		SET signer_emails = COALESCE(
				(SELECT array_agg(s.email ORDER BY s.position) FROM signers s WHERE s.agreement_id = agreements.id),
				'{}'),
		    last_modified = now(),
		    revision = revision + 1
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, updateSQL, agreementID)
	if err != nil {
		return fmt.Errorf("agreement: refresh projection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSignerSigned updates exactly the one signer row. Returns
// ErrAlreadySigned when the row exists but is already signed.
func (r *Repository) MarkSignerSigned(ctx context.Context, tx pgx.Tx, agreementID, signerID, signature string, at time.Time) error {
	const updateSQL = `
		UPDATE signers
		SET signed = true, signed_at = $4, signature = $3
		WHERE agreement_id = $1 AND id = $2 AND NOT signed
	`
	tag, err := tx.Exec(ctx, updateSQL, agreementID, signerID, signature, at)
	if err != nil {
		return fmt.Errorf("agreement: mark signed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var signed bool
	err = tx.QueryRow(ctx, `SELECT signed FROM signers WHERE agreement_id = $1 AND id = $2`, agreementID, signerID).Scan(&signed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSignerNotFound
	}
	if err != nil {
		return fmt.Errorf("agreement: check signer: %w", err)
	}
	if signed {
		return ErrAlreadySigned
	}
	return fmt.Errorf("agreement: mark signed affected no rows")
}

// TouchAgreement bumps last_modified and revision without changing fields.
func (r *Repository) TouchAgreement(ctx context.Context, tx pgx.Tx, agreementID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE agreements SET last_modified = now(), revision = revision + 1 WHERE id = $1`,
		agreementID,
	)
	if err != nil {
		return fmt.Errorf("agreement: touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus writes the new status, optionally recording the completed PDF
// location, and bumps last_modified and revision.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, agreementID string, status Status, pdfURL *string) error {
	const updateSQL = `
		UPDATE agreements
		SET status = $2,
		    pdf_url = COALESCE($3, pdf_url),
		    last_modified = now(),
		    revision = revision + 1
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, updateSQL, agreementID, status, pdfURL)
	if err != nil {
		return fmt.Errorf("agreement: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDraft rewrites title and content guarded by a revision
// compare-and-swap. Returns the new revision.
func (r *Repository) UpdateDraft(ctx context.Context, tx pgx.Tx, agreementID, title, content string, revision int64) (int64, error) {
	const updateSQL = `
		UPDATE agreements
		SET title = $2, content = $3, last_modified = now(), revision = revision + 1
		WHERE id = $1 AND status = 'draft' AND revision = $4
		RETURNING revision
	`
	var next int64
	err := tx.QueryRow(ctx, updateSQL, agreementID, title, content, revision).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("agreement: update draft: %w", err)
	}

	// Distinguish missing, non-draft, and stale-revision failures.
	var status Status
	var current int64
	err = tx.QueryRow(ctx, `SELECT status, revision FROM agreements WHERE id = $1`, agreementID).Scan(&status, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("agreement: check draft: %w", err)
	}
	if status != StatusDraft {
		return 0, ErrInvalidState
	}
	return 0, ErrStaleRevision
}

// DeleteAgreement removes the agreement row; signer and timeline rows
// cascade. Callers must have verified the draft-only guard under lock.
func (r *Repository) DeleteAgreement(ctx context.Context, tx pgx.Tx, agreementID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM agreements WHERE id = $1`, agreementID)
	if err != nil {
		return fmt.Errorf("agreement: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSignerView resolves the signing-link read model for one signer.
func (r *Repository) GetSignerView(ctx context.Context, agreementID, signerID string) (SignerView, error) {
	const query = `
		SELECT s.email, a.title, s.signed, a.pdf_url
		FROM signers s
		JOIN agreements a ON a.id = s.agreement_id
		WHERE s.agreement_id = $1 AND s.id = $2
	`
	var (
		view   SignerView
		signed bool
	)
	err := r.pool.QueryRow(ctx, query, agreementID, signerID).Scan(&view.Email, &view.AgreementTitle, &signed, &view.DocumentURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return SignerView{}, ErrSignerNotFound
	}
	if err != nil {
		return SignerView{}, fmt.Errorf("agreement: signer view: %w", err)
	}
	view.Status = "pending"
	if signed {
		view.Status = "signed"
	}
	return view, nil
}

// AppendTimeline records an immutable event in the caller's transaction.
func (r *Repository) AppendTimeline(ctx context.Context, tx pgx.Tx, agreementID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	const insertSQL = `
		INSERT INTO timeline_events (agreement_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4::uuid)
	`
	if _, err := tx.Exec(ctx, insertSQL, agreementID, eventType, body, actor); err != nil {
		return fmt.Errorf("agreement: insert timeline event: %w", err)
	}
	return nil
}

// ListTimeline returns the agreement's events in insertion order.
func (r *Repository) ListTimeline(ctx context.Context, agreementID string) ([]TimelineEvent, error) {
	const query = `
		SELECT id, agreement_id, type, payload, actor_id::text, created_at
		FROM timeline_events
		WHERE agreement_id = $1
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("agreement: list timeline: %w", err)
	}
	defer rows.Close()

	events := []TimelineEvent{}
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.AgreementID, &ev.Type, &ev.Payload, &ev.ActorID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("agreement: scan timeline event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate timeline: %w", err)
	}
	return events, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) loadSigners(ctx context.Context, q querier, agreementID string) ([]Signer, error) {
	const query = `
		SELECT id, position, name, email, role, signed, signed_at, signature
		FROM signers
		WHERE agreement_id = $1
		ORDER BY position ASC
	`
	rows, err := q.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("agreement: load signers: %w", err)
	}
	defer rows.Close()

	signers := []Signer{}
	for rows.Next() {
		var s Signer
		if err := rows.Scan(&s.ID, &s.Position, &s.Name, &s.Email, &s.Role, &s.Signed, &s.SignedAt, &s.Signature); err != nil {
			return nil, fmt.Errorf("agreement: scan signer: %w", err)
		}
		signers = append(signers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate signers: %w", err)
	}
	return signers, nil
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var ag Agreement
	err := row.Scan(
		&ag.ID,
		&ag.Title,
		&ag.Content,
		&ag.Status,
		&ag.CreatedBy,
		&ag.SignerEmails,
		&ag.Revision,
		&ag.PDFURL,
		&ag.CreatedAt,
		&ag.LastModified,
	)
	if err != nil {
		return Agreement{}, err
	}
	return ag, nil
}
