package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateEvent signals the idempotency insert hit an already-processed event.
	ErrDuplicateEvent = errors.New("billing: duplicate webhook event")
	// ErrSubscriptionNotFound signals the user has no subscription row.
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	// ErrPlanNotFound signals the requested plan does not exist.
	ErrPlanNotFound = errors.New("billing: plan not found")
)

// Repository is the pgx-backed data access layer for billing.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertIdempotencyKey reserves the event id inside the active transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("billing: empty idempotency key")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("billing: insert idempotency key: %w", err)
	}

	return nil
}

// UpsertSubscription writes the subscription row for the user and mirrors
// the plan onto the users table in the same transaction.
func (r *Repository) UpsertSubscription(ctx context.Context, tx pgx.Tx, ev WebhookEvent) error {
	const upsertSQL = `
		INSERT INTO subscriptions (user_id, plan_id, status, provider_customer_id, provider_subscription_id, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET plan_id                  = EXCLUDED.plan_id,
		    status                   = EXCLUDED.status,
		    provider_customer_id     = COALESCE(EXCLUDED.provider_customer_id, subscriptions.provider_customer_id),
		    provider_subscription_id = COALESCE(EXCLUDED.provider_subscription_id, subscriptions.provider_subscription_id),
		    current_period_end       = EXCLUDED.current_period_end,
		    updated_at               = now()
	`
	var custID, subID any
	if ev.ProviderCustomerID != "" {
		custID = ev.ProviderCustomerID
	}
	if ev.ProviderSubscriptionID != "" {
		subID = ev.ProviderSubscriptionID
	}
	if _, err := tx.Exec(ctx, upsertSQL, ev.UserID, ev.PlanID, ev.Status, custID, subID, ev.CurrentPeriodEnd); err != nil {
		return fmt.Errorf("billing: upsert subscription: %w", err)
	}

	plan := ev.PlanID
	if ev.Status != SubscriptionStatusActive {
		plan = "free"
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET plan = $2, updated_at = now() WHERE id = $1`, ev.UserID, plan); err != nil {
		return fmt.Errorf("billing: mirror plan to user: %w", err)
	}

	return nil
}

// GetSubscription fetches the user's subscription row.
func (r *Repository) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	const query = `
		SELECT id, user_id, plan_id, status, provider_customer_id, provider_subscription_id, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`
	var sub Subscription
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.Status,
		&sub.ProviderCustomerID,
		&sub.ProviderSubscriptionID,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, fmt.Errorf("billing: get subscription: %w", err)
	}

	return sub, nil
}

// GetPlan fetches a catalog plan by its identifier.
func (r *Repository) GetPlan(ctx context.Context, id string) (Plan, error) {
	const query = `SELECT id, name, price_cents, interval, features FROM plans WHERE id = $1`

	var plan Plan
	err := r.pool.QueryRow(ctx, query, id).Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.Interval, &plan.Features)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, fmt.Errorf("billing: get plan: %w", err)
	}

	return plan, nil
}

// ListPlans fetches the plan catalog ordered by price.
func (r *Repository) ListPlans(ctx context.Context) ([]Plan, error) {
	const query = `SELECT id, name, price_cents, interval, features FROM plans ORDER BY price_cents ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("billing: list plans: %w", err)
	}
	defer rows.Close()

	plans := []Plan{}
	for rows.Next() {
		var plan Plan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.Interval, &plan.Features); err != nil {
			return nil, fmt.Errorf("billing: scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing: iterate plans: %w", err)
	}

	return plans, nil
}
