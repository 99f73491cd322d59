package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WebhookRepository defines the data access required by the service.
type WebhookRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	UpsertSubscription(ctx context.Context, tx pgx.Tx, ev WebhookEvent) error
}

// Service applies payment-provider webhook events to subscription state.
// Plan business rules stay with the provider; events are applied verbatim.
type Service struct {
	pool TxBeginner
	repo WebhookRepository
}

func NewService(pool TxBeginner, repo WebhookRepository) *Service {
	return &Service{pool: pool, repo: repo}
}

// HandleProviderWebhook applies a subscription event exactly once. Replays
// with the same event id are acknowledged without re-applying.
func (s *Service) HandleProviderWebhook(ctx context.Context, ev WebhookEvent) error {
	if ev.EventID == "" {
		return fmt.Errorf("billing: missing event id")
	}

	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
	default:
		// Unknown event types are acknowledged so the provider stops retrying.
		return nil
	}
	if ev.UserID == "" {
		return fmt.Errorf("billing: missing user id")
	}
	if ev.PlanID == "" {
		return fmt.Errorf("billing: missing plan id")
	}

	if ev.Type == EventSubscriptionDeleted {
		ev.Status = SubscriptionStatusCancelled
	}
	if ev.Status == "" {
		ev.Status = SubscriptionStatusActive
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, ev.EventID); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	if err := s.repo.UpsertSubscription(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing: commit tx: %w", err)
	}

	return nil
}
