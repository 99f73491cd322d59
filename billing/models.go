package billing

import "time"

// Plan is a catalog entry shown on the pricing page.
type Plan struct {
	ID         string
	Name       string
	PriceCents int
	Interval   string
	Features   []string
}

// Subscription mirrors the subscriptions table. One row per user.
type Subscription struct {
	ID                     string
	UserID                 string
	PlanID                 string
	Status                 string
	ProviderCustomerID     *string
	ProviderSubscriptionID *string
	CurrentPeriodEnd       *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// WebhookEvent is a payment-provider event normalized for the service.
// EventID doubles as the idempotency key.
type WebhookEvent struct {
	EventID                string
	Type                   string
	UserID                 string
	PlanID                 string
	Status                 string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	CurrentPeriodEnd       *time.Time
}

// Provider event types the service reacts to. Anything else is accepted
// and ignored so the provider does not retry.
const (
	EventSubscriptionCreated    = "customer.subscription.created"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)
