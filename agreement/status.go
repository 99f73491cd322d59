package agreement

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/jackc/pgx/v5"
)

// StatusRepository defines the data access required by status transitions.
type StatusRepository interface {
	GetAgreementForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error)
	SetStatus(ctx context.Context, tx pgx.Tx, agreementID string, status Status, pdfURL *string) error
	DeleteAgreement(ctx context.Context, tx pgx.Tx, agreementID string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, agreementID, eventType string, actorID *string, payload map[string]any) error
}

// Renderer turns an HTML snapshot into document bytes. PDF rendering is
// delegated to an external capability.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// ObjectStore persists a generated artifact and returns its URL.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, path string, public bool) (string, error)
}

var statusTransitions = map[Status]map[Status]bool{
	StatusDraft:   {StatusPending: true},
	StatusPending: {StatusCompleted: true},
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to Status) bool {
	return statusTransitions[from][to]
}

type TransitionParams struct {
	AgreementID string
	ActorID     string
	NextStatus  Status
}

type TransitionResult struct {
	PreviousStatus Status
	NextStatus     Status
	PDFURL         *string
}

// StatusService governs agreement status transitions. Completing an
// agreement renders and stores a PDF snapshot inside the same transaction;
// artifact failure aborts the transition entirely.
type StatusService struct {
	pool     TxBeginner
	repo     StatusRepository
	renderer Renderer
	store    ObjectStore
	now      func() time.Time
}

func NewStatusService(pool TxBeginner, repo StatusRepository, renderer Renderer, store ObjectStore) *StatusService {
	return &StatusService{
		pool:     pool,
		repo:     repo,
		renderer: renderer,
		store:    store,
		now:      time.Now,
	}
}

func (s *StatusService) WithClock(now func() time.Time) *StatusService {
	s.now = now
	return s
}

// Transition moves the agreement forward. Draft -> pending needs no
// artifact; pending -> completed must produce the PDF snapshot first, and
// the status write only commits once the artifact exists.
func (s *StatusService) Transition(ctx context.Context, params TransitionParams) (TransitionResult, error) {
	if params.AgreementID == "" {
		return TransitionResult{}, fmt.Errorf("agreement: agreement id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ag, err := s.repo.GetAgreementForUpdate(ctx, tx, params.AgreementID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !CanTransition(ag.Status, params.NextStatus) {
		return TransitionResult{}, ErrInvalidState
	}

	var pdfURL *string
	if params.NextStatus == StatusCompleted {
		url, err := s.generatePDF(ctx, ag)
		if err != nil {
			return TransitionResult{}, err
		}
		pdfURL = &url
	}

	if err := s.repo.SetStatus(ctx, tx, ag.ID, params.NextStatus, pdfURL); err != nil {
		return TransitionResult{}, err
	}

	payload := map[string]any{
		"previous_status": string(ag.Status),
		"next_status":     string(params.NextStatus),
	}
	if pdfURL != nil {
		payload["pdf_url"] = *pdfURL
	}
	if err := s.repo.AppendTimeline(ctx, tx, ag.ID, EventStatusChanged, actorPtr(params.ActorID), payload); err != nil {
		return TransitionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, fmt.Errorf("agreement: commit transition: %w", err)
	}

	return TransitionResult{
		PreviousStatus: ag.Status,
		NextStatus:     params.NextStatus,
		PDFURL:         pdfURL,
	}, nil
}

// Delete removes an agreement. Only drafts may be deleted.
func (s *StatusService) Delete(ctx context.Context, agreementID, actorID string) error {
	if agreementID == "" {
		return fmt.Errorf("agreement: agreement id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ag, err := s.repo.GetAgreementForUpdate(ctx, tx, agreementID)
	if err != nil {
		return err
	}
	if ag.Status != StatusDraft {
		return ErrInvalidState
	}

	if err := s.repo.DeleteAgreement(ctx, tx, agreementID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agreement: commit delete: %w", err)
	}
	return nil
}

func (s *StatusService) generatePDF(ctx context.Context, ag Agreement) (string, error) {
	if s.renderer == nil || s.store == nil {
		return "", fmt.Errorf("agreement: pdf pipeline not configured")
	}

	html, err := renderSnapshotHTML(ag)
	if err != nil {
		return "", err
	}

	data, err := s.renderer.Render(ctx, html)
	if err != nil {
		return "", fmt.Errorf("agreement: render pdf: %w", err)
	}

	path := fmt.Sprintf("agreements-pdf/%s-%d.pdf", ag.ID, s.now().UnixMilli())
	url, err := s.store.Store(ctx, data, path, true)
	if err != nil {
		return "", fmt.Errorf("agreement: store pdf: %w", err)
	}
	return url, nil
}

var snapshotTmpl = template.Must(template.New("snapshot").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  <div class="content">{{.Content}}</div>
  <h2>Signatures</h2>
  <table>
  {{range .Signers}}
    <tr>
      <td>{{.Name}} ({{.Role}})</td>
      <td>{{.Email}}</td>
      <td>{{if .Signed}}Signed {{.SignedAt.Format "2006-01-02 15:04 MST"}}{{else}}Pending{{end}}</td>
    </tr>
  {{end}}
  </table>
</body>
</html>
`))

func renderSnapshotHTML(ag Agreement) (string, error) {
	var buf bytes.Buffer
	if err := snapshotTmpl.Execute(&buf, ag); err != nil {
		return "", fmt.Errorf("agreement: render snapshot html: %w", err)
	}
	return buf.String(), nil
}
