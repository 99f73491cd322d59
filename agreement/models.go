package agreement

import "time"

// Status enumerates the agreement lifecycle. Transitions only move forward.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// RoleCreator marks the signer row that owns the agreement. It always sits
// at position 0 and is never displaced by signer management.
const RoleCreator = "Creator"

// Signer is a party expected to sign an agreement. Each signer is persisted
// as its own row so signature capture never rewrites the whole collection.
type Signer struct {
	ID        string
	Position  int
	Name      string
	Email     string
	Role      string
	Signed    bool
	SignedAt  *time.Time
	Signature *string
}

// Agreement mirrors the agreements table plus its signer rows.
type Agreement struct {
	ID           string
	Title        string
	Content      string
	Status       Status
	CreatedBy    string
	Signers      []Signer
	SignerEmails []string
	Revision     int64
	PDFURL       *string
	CreatedAt    time.Time
	LastModified time.Time
}

// Creator returns the position-0 signer.
func (a Agreement) Creator() *Signer {
	for i := range a.Signers {
		if a.Signers[i].Position == 0 {
			return &a.Signers[i]
		}
	}
	return nil
}

// FindSigner returns the signer with the given id, or nil.
func (a Agreement) FindSigner(signerID string) *Signer {
	for i := range a.Signers {
		if a.Signers[i].ID == signerID {
			return &a.Signers[i]
		}
	}
	return nil
}

// Timeline event types appended alongside agreement mutations.
const (
	EventAgreementCreated = "AGREEMENT_CREATED"
	EventSignerAdded      = "SIGNER_ADDED"
	EventSignerSigned     = "SIGNER_SIGNED"
	EventStatusChanged    = "AGREEMENT_STATUS_CHANGED"
)

// TimelineEvent captures an immutable business event for an agreement.
type TimelineEvent struct {
	ID          int64
	AgreementID string
	Type        string
	ActorID     *string
	Payload     []byte
	CreatedAt   time.Time
}

// SignerView is the state exposed to a recipient following a signing link.
type SignerView struct {
	Email          string
	AgreementTitle string
	Status         string
	DocumentURL    *string
}
