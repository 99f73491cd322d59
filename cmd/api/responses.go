package main

import (
	"encoding/json"
	"time"

	"muwise/agreement"
	"muwise/auth"
)

type userResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	FullName   string  `json:"full_name"`
	Role       string  `json:"role"`
	ArtistName *string `json:"artist_name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Bio        *string `json:"bio,omitempty"`
	PhotoURL   *string `json:"photo_url,omitempty"`
	Plan       string  `json:"plan"`
	CreatedAt  string  `json:"created_at"`
}

func userResponseFrom(u auth.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Role:       string(u.Role),
		ArtistName: u.ArtistName,
		Phone:      u.Phone,
		Bio:        u.Bio,
		PhotoURL:   u.PhotoURL,
		Plan:       u.Plan,
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type signerResponse struct {
	ID        string  `json:"id"`
	Position  int     `json:"position"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	Signed    bool    `json:"signed"`
	SignedAt  *string `json:"signed_at,omitempty"`
	Signature *string `json:"signature,omitempty"`
}

type agreementResponse struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Content      string           `json:"content"`
	Status       string           `json:"status"`
	CreatedBy    string           `json:"created_by"`
	Signers      []signerResponse `json:"signers"`
	SignerEmails []string         `json:"signer_emails"`
	Revision     int64            `json:"revision"`
	PDFURL       *string          `json:"pdf_url,omitempty"`
	CreatedAt    string           `json:"created_at"`
	LastModified string           `json:"last_modified"`
}

func agreementResponseFrom(ag agreement.Agreement) agreementResponse {
	signers := make([]signerResponse, 0, len(ag.Signers))
	for _, s := range ag.Signers {
		resp := signerResponse{
			ID:        s.ID,
			Position:  s.Position,
			Name:      s.Name,
			Email:     s.Email,
			Role:      s.Role,
			Signed:    s.Signed,
			Signature: s.Signature,
		}
		if s.SignedAt != nil {
			formatted := s.SignedAt.Format(time.RFC3339)
			resp.SignedAt = &formatted
		}
		signers = append(signers, resp)
	}

	emails := ag.SignerEmails
	if emails == nil {
		emails = []string{}
	}

	return agreementResponse{
		ID:           ag.ID,
		Title:        ag.Title,
		Content:      ag.Content,
		Status:       string(ag.Status),
		CreatedBy:    ag.CreatedBy,
		Signers:      signers,
		SignerEmails: emails,
		Revision:     ag.Revision,
		PDFURL:       ag.PDFURL,
		CreatedAt:    ag.CreatedAt.Format(time.RFC3339),
		LastModified: ag.LastModified.Format(time.RFC3339),
	}
}

type listResponse struct {
	Total int                 `json:"total"`
	Items []agreementResponse `json:"items"`
}

type actionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type timelineResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	ActorID   *string         `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type signerViewResponse struct {
	Email          string  `json:"email"`
	AgreementTitle string  `json:"agreement_title"`
	Status         string  `json:"status"`
	DocumentURL    *string `json:"document_url,omitempty"`
}

type planResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PriceCents int      `json:"price_cents"`
	Interval   string   `json:"interval"`
	Features   []string `json:"features"`
}

type subscriptionResponse struct {
	PlanID           string  `json:"plan_id"`
	Status           string  `json:"status"`
	CurrentPeriodEnd *string `json:"current_period_end,omitempty"`
}
