package agreement

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func newTestStatusService(pool *fakePool, repo *fakeStatusRepo, renderer *fakeRenderer, store *fakeStore) *StatusService {
	svc := NewStatusService(pool, repo, renderer, store)
	return svc.WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
}

func TestTransition_DraftToPending(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeStatusRepo{agreement: draftAgreementFixture()}
	renderer := &fakeRenderer{}
	svc := newTestStatusService(pool, repo, renderer, &fakeStore{})

	result, err := svc.Transition(context.Background(), TransitionParams{
		AgreementID: "agreement-1",
		ActorID:     "user-1",
		NextStatus:  StatusPending,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if result.PreviousStatus != StatusDraft || result.NextStatus != StatusPending {
		t.Errorf("unexpected transition result: %+v", result)
	}
	if result.PDFURL != nil {
		t.Errorf("draft -> pending must not produce an artifact")
	}
	if renderer.calls != 0 {
		t.Errorf("expected no render for draft -> pending")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestTransition_CompletionStoresPDF(t *testing.T) {
	ag := draftAgreementFixture()
	ag.Status = StatusPending
	pool := &fakePool{}
	repo := &fakeStatusRepo{agreement: ag}
	renderer := &fakeRenderer{data: []byte("%PDF-1.7")}
	store := &fakeStore{url: "https://files.muwise.test/agreements-pdf/agreement-1.pdf"}
	svc := newTestStatusService(pool, repo, renderer, store)

	result, err := svc.Transition(context.Background(), TransitionParams{
		AgreementID: "agreement-1",
		NextStatus:  StatusCompleted,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if renderer.calls != 1 {
		t.Fatalf("expected one render call, got %d", renderer.calls)
	}
	if !strings.Contains(renderer.html, ag.Title) {
		t.Errorf("expected snapshot html to include the title")
	}
	if !strings.HasPrefix(store.path, "agreements-pdf/agreement-1-") {
		t.Errorf("unexpected artifact path %q", store.path)
	}
	if !store.public {
		t.Errorf("expected public artifact")
	}

	if repo.statusPDF == nil || *repo.statusPDF != store.url {
		t.Errorf("expected status write to carry the artifact url, got %v", repo.statusPDF)
	}
	if result.PDFURL == nil || *result.PDFURL != store.url {
		t.Errorf("expected result to expose the artifact url")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestTransition_RenderFailureAbortsCompletion(t *testing.T) {
	ag := draftAgreementFixture()
	ag.Status = StatusPending
	pool := &fakePool{}
	repo := &fakeStatusRepo{agreement: ag}
	renderer := &fakeRenderer{err: errors.New("renderer down")}
	svc := newTestStatusService(pool, repo, renderer, &fakeStore{})

	_, err := svc.Transition(context.Background(), TransitionParams{
		AgreementID: "agreement-1",
		NextStatus:  StatusCompleted,
	})
	if err == nil {
		t.Fatalf("expected transition to fail when the artifact cannot be produced")
	}

	if repo.statusSet != nil {
		t.Errorf("expected no status write after render failure")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
}

func TestTransition_RejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
	}{
		{"draft skips to completed", StatusDraft, StatusCompleted},
		{"pending regresses to draft", StatusPending, StatusDraft},
		{"completed is terminal", StatusCompleted, StatusPending},
		{"same state", StatusPending, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ag := draftAgreementFixture()
			ag.Status = tc.from
			pool := &fakePool{}
			repo := &fakeStatusRepo{agreement: ag}
			svc := newTestStatusService(pool, repo, &fakeRenderer{}, &fakeStore{})

			_, err := svc.Transition(context.Background(), TransitionParams{
				AgreementID: "agreement-1",
				NextStatus:  tc.to,
			})
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestDelete_DraftOnly(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeStatusRepo{agreement: draftAgreementFixture()}
	svc := newTestStatusService(pool, repo, &fakeRenderer{}, &fakeStore{})

	if err := svc.Delete(context.Background(), "agreement-1", "user-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.deleted {
		t.Errorf("expected delete to run")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestDelete_RejectsNonDraft(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusCompleted} {
		ag := draftAgreementFixture()
		ag.Status = status
		pool := &fakePool{}
		repo := &fakeStatusRepo{agreement: ag}
		svc := newTestStatusService(pool, repo, &fakeRenderer{}, &fakeStore{})

		err := svc.Delete(context.Background(), "agreement-1", "user-1")
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("status %s: expected ErrInvalidState, got %v", status, err)
		}
		if repo.deleted {
			t.Errorf("status %s: expected delete to be skipped", status)
		}
	}
}

type fakeStatusRepo struct {
	agreement Agreement

	statusSet *Status
	statusPDF *string
	deleted   bool
	events    []string
}

func (f *fakeStatusRepo) GetAgreementForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	return f.agreement, nil
}

func (f *fakeStatusRepo) SetStatus(ctx context.Context, tx pgx.Tx, agreementID string, status Status, pdfURL *string) error {
	f.statusSet = &status
	f.statusPDF = pdfURL
	return nil
}

func (f *fakeStatusRepo) DeleteAgreement(ctx context.Context, tx pgx.Tx, agreementID string) error {
	f.deleted = true
	return nil
}

func (f *fakeStatusRepo) AppendTimeline(ctx context.Context, tx pgx.Tx, agreementID, eventType string, actorID *string, payload map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

type fakeRenderer struct {
	data  []byte
	err   error
	calls int
	html  string
}

func (f *fakeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	f.calls++
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeStore struct {
	url    string
	err    error
	path   string
	public bool
}

func (f *fakeStore) Store(ctx context.Context, data []byte, path string, public bool) (string, error) {
	f.path = path
	f.public = public
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}
