package agreement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"muwise/signing"
)

// SignatureRepository defines the data access required by signature capture.
type SignatureRepository interface {
	MarkSignerSigned(ctx context.Context, tx pgx.Tx, agreementID, signerID, signature string, at time.Time) error
	TouchAgreement(ctx context.Context, tx pgx.Tx, agreementID string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, agreementID, eventType string, actorID *string, payload map[string]any) error
	GetSignerView(ctx context.Context, agreementID, signerID string) (SignerView, error)
}

// TokenVerifier validates a signature token, cross-checking the session
// identity when one is present.
type TokenVerifier interface {
	VerifyFor(token, sessionEmail string) (signing.Claims, error)
}

type RecordSignatureParams struct {
	AgreementID string
	SignerID    string
	Signature   string
	ActorID     string
}

// SignatureService accepts rendered signature images and marks signers as
// signed. Re-signing is rejected to preserve the audit trail.
type SignatureService struct {
	pool     TxBeginner
	repo     SignatureRepository
	verifier TokenVerifier
	now      func() time.Time
}

func NewSignatureService(pool TxBeginner, repo SignatureRepository, verifier TokenVerifier) *SignatureService {
	return &SignatureService{
		pool:     pool,
		repo:     repo,
		verifier: verifier,
		now:      time.Now,
	}
}

func (s *SignatureService) WithClock(now func() time.Time) *SignatureService {
	s.now = now
	return s
}

// RecordSignature stores the signature image on exactly one signer row and
// timestamps the event. The agreement's last_modified and revision are
// bumped in the same transaction.
func (s *SignatureService) RecordSignature(ctx context.Context, params RecordSignatureParams) (time.Time, error) {
	if params.AgreementID == "" || params.SignerID == "" {
		return time.Time{}, fmt.Errorf("agreement: agreement id and signer id required")
	}
	if params.Signature == "" {
		return time.Time{}, fmt.Errorf("agreement: signature payload required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	signedAt := s.now().UTC()
	if err := s.repo.MarkSignerSigned(ctx, tx, params.AgreementID, params.SignerID, params.Signature, signedAt); err != nil {
		return time.Time{}, err
	}
	if err := s.repo.TouchAgreement(ctx, tx, params.AgreementID); err != nil {
		return time.Time{}, err
	}

	payload := map[string]any{
		"signer_id": params.SignerID,
		"signed_at": signedAt,
	}
	if err := s.repo.AppendTimeline(ctx, tx, params.AgreementID, EventSignerSigned, actorPtr(params.ActorID), payload); err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("agreement: commit signature: %w", err)
	}
	return signedAt, nil
}

// GetSignerByToken resolves the signing-link read model. sessionEmail is
// empty for the guest flow; when set it must match the token's bound email.
func (s *SignatureService) GetSignerByToken(ctx context.Context, token, sessionEmail string) (SignerView, error) {
	claims, err := s.verifier.VerifyFor(token, sessionEmail)
	if err != nil {
		return SignerView{}, err
	}
	return s.repo.GetSignerView(ctx, claims.AgreementID, claims.SignerID)
}

// CompleteByToken verifies the bearer token and records the signature for
// the signer it is bound to.
func (s *SignatureService) CompleteByToken(ctx context.Context, token, sessionEmail, signature string) (time.Time, error) {
	claims, err := s.verifier.VerifyFor(token, sessionEmail)
	if err != nil {
		return time.Time{}, err
	}
	return s.RecordSignature(ctx, RecordSignatureParams{
		AgreementID: claims.AgreementID,
		SignerID:    claims.SignerID,
		Signature:   signature,
	})
}
