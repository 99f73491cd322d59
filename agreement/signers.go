package agreement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SignerRepository defines the data access required by the signer registry.
type SignerRepository interface {
	GetAgreementForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error)
	InsertSignerAfterCreator(ctx context.Context, tx pgx.Tx, agreementID string, s Signer) error
	RefreshProjection(ctx context.Context, tx pgx.Tx, agreementID string) error
	SetStatus(ctx context.Context, tx pgx.Tx, agreementID string, status Status, pdfURL *string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, agreementID, eventType string, actorID *string, payload map[string]any) error
}

// Notifier sends a signature-request message to a signer. Delivery failure
// must not roll back the signer mutation, so it runs after commit.
type Notifier interface {
	SendSignatureRequest(ctx context.Context, email, agreementID, signerID, agreementTitle, requesterName string) error
}

type SignerParams struct {
	Name  string
	Email string
	Role  string
}

type AddSignerParams struct {
	AgreementID string
	ActorID     string
	Signer      SignerParams
	// DeferNotification skips the signature-request email; the caller can
	// trigger it later through the dispatcher.
	DeferNotification bool
}

// AddSignerResult reports the committed signer plus the outcome of the
// best-effort notification. EmailErr set with a committed signer is the
// partial-success ("warning") case.
type AddSignerResult struct {
	Signer    Signer
	EmailSent bool
	EmailErr  error
}

// SignerService maintains the ordered signer list attached to an agreement.
type SignerService struct {
	pool     TxBeginner
	repo     SignerRepository
	notifier Notifier
	signerID func() string
	now      func() time.Time
}

func NewSignerService(pool TxBeginner, repo SignerRepository, notifier Notifier) *SignerService {
	return &SignerService{
		pool:     pool,
		repo:     repo,
		notifier: notifier,
		signerID: newSignerID,
		now:      time.Now,
	}
}

func (s *SignerService) WithIDGenerator(gen func() string) *SignerService {
	s.signerID = gen
	return s
}

func (s *SignerService) WithClock(now func() time.Time) *SignerService {
	s.now = now
	return s
}

// AddSigner inserts a new signer immediately after the creator, recomputes
// the signer_emails projection, and advances a draft agreement to pending
// when this is the first signature request. A duplicate email is rejected.
// The notification is dispatched only after the transaction commits.
func (s *SignerService) AddSigner(ctx context.Context, params AddSignerParams) (AddSignerResult, error) {
	if params.AgreementID == "" {
		return AddSignerResult{}, fmt.Errorf("agreement: agreement id required")
	}
	email := normalizeEmail(params.Signer.Email)
	if email == "" {
		return AddSignerResult{}, fmt.Errorf("agreement: signer email required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AddSignerResult{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ag, err := s.repo.GetAgreementForUpdate(ctx, tx, params.AgreementID)
	if err != nil {
		return AddSignerResult{}, err
	}
	if ag.Status == StatusCompleted {
		return AddSignerResult{}, ErrInvalidState
	}
	for _, existing := range ag.Signers {
		if existing.Email == email {
			return AddSignerResult{}, ErrDuplicateSigner
		}
	}

	signer := Signer{
		ID:       s.signerID(),
		Position: 1,
		Name:     params.Signer.Name,
		Email:    email,
		Role:     params.Signer.Role,
	}
	if err := s.repo.InsertSignerAfterCreator(ctx, tx, ag.ID, signer); err != nil {
		return AddSignerResult{}, err
	}
	if err := s.repo.RefreshProjection(ctx, tx, ag.ID); err != nil {
		return AddSignerResult{}, err
	}

	payload := map[string]any{
		"signer_id":    signer.ID,
		"signer_email": signer.Email,
		"signer_role":  signer.Role,
	}
	if err := s.repo.AppendTimeline(ctx, tx, ag.ID, EventSignerAdded, actorPtr(params.ActorID), payload); err != nil {
		return AddSignerResult{}, err
	}

	// Sending the first signature request is what moves a draft to pending.
	if !params.DeferNotification && ag.Status == StatusDraft {
		if err := s.repo.SetStatus(ctx, tx, ag.ID, StatusPending, nil); err != nil {
			return AddSignerResult{}, err
		}
		statusPayload := map[string]any{
			"previous_status": string(StatusDraft),
			"next_status":     string(StatusPending),
		}
		if err := s.repo.AppendTimeline(ctx, tx, ag.ID, EventStatusChanged, actorPtr(params.ActorID), statusPayload); err != nil {
			return AddSignerResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AddSignerResult{}, fmt.Errorf("agreement: commit add signer: %w", err)
	}

	result := AddSignerResult{Signer: signer}
	if params.DeferNotification || s.notifier == nil {
		return result, nil
	}

	requester := ""
	if creator := ag.Creator(); creator != nil {
		requester = creator.Name
	}
	if err := s.notifier.SendSignatureRequest(ctx, signer.Email, ag.ID, signer.ID, ag.Title, requester); err != nil {
		result.EmailErr = fmt.Errorf("agreement: send signature request: %w", err)
		return result, nil
	}
	result.EmailSent = true
	return result, nil
}

func newSignerID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("signer-%d-%s", time.Now().UnixMilli(), suffix)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func actorPtr(actorID string) *string {
	if actorID == "" {
		return nil
	}
	return &actorID
}
