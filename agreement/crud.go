package agreement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreatorInfo identifies the authenticated user creating an agreement.
type CreatorInfo struct {
	UserID string
	Email  string
	Name   string
}

type CreateParams struct {
	Title   string
	Content string
	Creator CreatorInfo
}

type UpdateDraftParams struct {
	AgreementID string
	Title       string
	Content     string
	Revision    int64
}

type ListFilters struct {
	UserID   string
	Email    string
	Page     int
	PageSize int
}

// CRUDService covers agreement creation, reads, draft edits, and listing.
// Signer management, signature capture, and status transitions live in
// their own services.
type CRUDService struct {
	pool *pgxpool.Pool
	repo *Repository
	now  func() time.Time
}

func NewCRUDService(pool *pgxpool.Pool, repo *Repository) *CRUDService {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &CRUDService{pool: pool, repo: repo, now: time.Now}
}

// Create inserts a draft agreement with the creator as its only signer.
// The creator signer starts unsigned like everyone else.
func (s *CRUDService) Create(ctx context.Context, params CreateParams) (Agreement, error) {
	if params.Creator.UserID == "" {
		return Agreement{}, fmt.Errorf("agreement: creator user id required")
	}
	if params.Creator.Email == "" {
		return Agreement{}, fmt.Errorf("agreement: creator email required")
	}
	if params.Title == "" {
		return Agreement{}, fmt.Errorf("agreement: title required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ag, err := s.repo.InsertAgreement(ctx, tx, params.Title, params.Content, params.Creator.UserID)
	if err != nil {
		return Agreement{}, err
	}

	creator := Signer{
		ID:       fmt.Sprintf("signer-%d-creator", s.now().UnixMilli()),
		Position: 0,
		Name:     params.Creator.Name,
		Email:    params.Creator.Email,
		Role:     RoleCreator,
	}
	if err := s.repo.InsertSigner(ctx, tx, ag.ID, creator); err != nil {
		return Agreement{}, err
	}

	if err := s.repo.RefreshProjection(ctx, tx, ag.ID); err != nil {
		return Agreement{}, err
	}

	payload := map[string]any{
		"title":         ag.Title,
		"creator_email": params.Creator.Email,
	}
	if err := s.repo.AppendTimeline(ctx, tx, ag.ID, EventAgreementCreated, &params.Creator.UserID, payload); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit create: %w", err)
	}

	return s.repo.GetAgreement(ctx, ag.ID)
}

// Get loads an agreement with its signers.
func (s *CRUDService) Get(ctx context.Context, agreementID string) (Agreement, error) {
	return s.repo.GetAgreement(ctx, agreementID)
}

// UpdateDraft edits title and content of a draft. The caller supplies the
// revision it read; a concurrent edit surfaces as ErrStaleRevision.
func (s *CRUDService) UpdateDraft(ctx context.Context, params UpdateDraftParams) (int64, error) {
	if params.AgreementID == "" {
		return 0, fmt.Errorf("agreement: agreement id required")
	}
	if params.Title == "" {
		return 0, fmt.Errorf("agreement: title required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	next, err := s.repo.UpdateDraft(ctx, tx, params.AgreementID, params.Title, params.Content, params.Revision)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("agreement: commit update: %w", err)
	}
	return next, nil
}

// List returns agreements the user created or is invited to sign, newest
// activity first.
func (s *CRUDService) List(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	const query = `
		SELECT ` + agreementColumns + `
		FROM agreements
		WHERE created_by = $1 OR $2 = ANY(signer_emails)
		ORDER BY last_modified DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query, filters.UserID, filters.Email, filters.PageSize, (filters.Page-1)*filters.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}
	defer rows.Close()

	records := []Agreement{}
	for rows.Next() {
		ag, err := scanAgreement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("agreement: scan list row: %w", err)
		}
		records = append(records, ag)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agreement: iterate list: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM agreements WHERE created_by = $1 OR $2 = ANY(signer_emails)`
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, filters.UserID, filters.Email).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agreement: count list: %w", err)
	}

	return records, total, nil
}

// Timeline returns the audit events for an agreement.
func (s *CRUDService) Timeline(ctx context.Context, agreementID string) ([]TimelineEvent, error) {
	if _, err := s.repo.GetAgreement(ctx, agreementID); err != nil {
		return nil, err
	}
	return s.repo.ListTimeline(ctx, agreementID)
}
