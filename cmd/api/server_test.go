package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"muwise/agreement"
	"muwise/auth"
	"muwise/billing"
	"muwise/signing"
)

type stubAuthService struct {
	identity    auth.Identity
	verifyErr   error
	user        *auth.User
	userErr     error
	loginResult auth.LoginResult
	loginErr    error
	registered  *auth.User
	registerErr error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return s.registered, s.registerErr
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) GetUserByID(_ context.Context, _ string) (*auth.User, error) {
	return s.user, s.userErr
}

func (s *stubAuthService) UpdateProfile(_ context.Context, _ string, _ auth.UpdateProfileParams) (*auth.User, error) {
	return s.user, s.userErr
}

func (s *stubAuthService) UploadProfilePhoto(_ context.Context, _, _ string, _ []byte) (*auth.User, error) {
	return s.user, s.userErr
}

func (s *stubAuthService) VerifyToken(_ string) (auth.Identity, error) {
	return s.identity, s.verifyErr
}

type stubSignerService struct {
	result agreement.AddSignerResult
	err    error
	params agreement.AddSignerParams
}

func (s *stubSignerService) AddSigner(_ context.Context, params agreement.AddSignerParams) (agreement.AddSignerResult, error) {
	s.params = params
	return s.result, s.err
}

type stubSignatureService struct {
	view        agreement.SignerView
	viewErr     error
	signedAt    time.Time
	completeErr error
}

func (s *stubSignatureService) GetSignerByToken(_ context.Context, _, _ string) (agreement.SignerView, error) {
	return s.view, s.viewErr
}

func (s *stubSignatureService) CompleteByToken(_ context.Context, _, _, _ string) (time.Time, error) {
	return s.signedAt, s.completeErr
}

type stubStatusService struct {
	result    agreement.TransitionResult
	err       error
	deleteErr error
}

func (s *stubStatusService) Transition(_ context.Context, _ agreement.TransitionParams) (agreement.TransitionResult, error) {
	return s.result, s.err
}

func (s *stubStatusService) Delete(_ context.Context, _, _ string) error {
	return s.deleteErr
}

type stubBillingService struct {
	err error
	ev  billing.WebhookEvent
}

func (s *stubBillingService) HandleProviderWebhook(_ context.Context, ev billing.WebhookEvent) error {
	s.ev = ev
	return s.err
}

func sessionAuth() *stubAuthService {
	return &stubAuthService{
		identity: auth.Identity{UserID: "user-1", Email: "ava@example.com", Role: auth.RoleArtist},
	}
}

func TestHandleAddSigner_Success(t *testing.T) {
	signers := &stubSignerService{
		result: agreement.AddSignerResult{
			Signer:    agreement.Signer{ID: "signer-2-abc123", Position: 1},
			EmailSent: true,
		},
	}
	server := &Server{authService: sessionAuth(), signerService: signers}

	body := strings.NewReader(`{"name":"Marcus Reed","email":"marcus@example.com","role":"Producer"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements/agreement-1/signers", body)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleAgreement(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp actionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("expected success status, got %q", resp.Status)
	}
	if signers.params.AgreementID != "agreement-1" || signers.params.ActorID != "user-1" {
		t.Errorf("unexpected service params: %+v", signers.params)
	}
}

func TestHandleAddSigner_WarningOnDeliveryFailure(t *testing.T) {
	signers := &stubSignerService{
		result: agreement.AddSignerResult{
			Signer:   agreement.Signer{ID: "signer-2-abc123", Position: 1},
			EmailErr: errors.New("provider unavailable"),
		},
	}
	server := &Server{authService: sessionAuth(), signerService: signers}

	body := strings.NewReader(`{"name":"Marcus Reed","email":"marcus@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements/agreement-1/signers", body)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleAgreement(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	var resp actionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "warning" {
		t.Errorf("expected warning status, got %q", resp.Status)
	}
}

func TestHandleAddSigner_Duplicate(t *testing.T) {
	server := &Server{
		authService:   sessionAuth(),
		signerService: &stubSignerService{err: agreement.ErrDuplicateSigner},
	}

	body := strings.NewReader(`{"email":"ava@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements/agreement-1/signers", body)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleAgreement(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestHandleAgreements_RequiresSession(t *testing.T) {
	server := &Server{authService: &stubAuthService{verifyErr: errors.New("bad token")}}

	req := httptest.NewRequest(http.MethodGet, "/api/agreements", nil)
	rec := httptest.NewRecorder()
	server.handleAgreements(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing session, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/agreements", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec = httptest.NewRecorder()
	server.handleAgreements(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid session, got %d", rec.Code)
	}
}

func TestHandleStatusTransition_Completion(t *testing.T) {
	pdfURL := "https://files.muwise.test/agreements-pdf/agreement-1.pdf"
	server := &Server{
		authService: sessionAuth(),
		statusService: &stubStatusService{result: agreement.TransitionResult{
			PreviousStatus: agreement.StatusPending,
			NextStatus:     agreement.StatusCompleted,
			PDFURL:         &pdfURL,
		}},
	}

	body := strings.NewReader(`{"status":"completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements/agreement-1/status", body)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleAgreement(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "completed" || resp["pdf_url"] != pdfURL {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestHandleStatusTransition_InvalidMove(t *testing.T) {
	server := &Server{
		authService:   sessionAuth(),
		statusService: &stubStatusService{err: agreement.ErrInvalidState},
	}

	body := strings.NewReader(`{"status":"draft"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements/agreement-1/status", body)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleAgreement(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestHandleGetSigner_InvalidToken(t *testing.T) {
	server := &Server{
		authService:      sessionAuth(),
		signatureService: &stubSignatureService{viewErr: signing.ErrInvalidToken},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sign/getSigner?token=bogus", nil)
	rec := httptest.NewRecorder()

	server.handleGetSigner(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for invalid token, got %d", rec.Code)
	}
}

func TestHandleGetSigner_GuestFlow(t *testing.T) {
	docURL := "https://files.muwise.test/agreements-pdf/agreement-1.pdf"
	server := &Server{
		authService: &stubAuthService{verifyErr: errors.New("unused")},
		signatureService: &stubSignatureService{view: agreement.SignerView{
			Email:          "marcus@example.com",
			AgreementTitle: "Producer Split Sheet",
			Status:         "pending",
			DocumentURL:    &docURL,
		}},
	}

	// No Authorization header: the signing token alone authenticates.
	req := httptest.NewRequest(http.MethodGet, "/api/sign/getSigner?token=tok", nil)
	rec := httptest.NewRecorder()

	server.handleGetSigner(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp signerViewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Email != "marcus@example.com" || resp.AgreementTitle != "Producer Split Sheet" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleCompleteSigner_AlreadySigned(t *testing.T) {
	server := &Server{
		authService:      sessionAuth(),
		signatureService: &stubSignatureService{completeErr: agreement.ErrAlreadySigned},
	}

	body := strings.NewReader(`{"token":"tok","signature":"sig"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sign/completeSigner", body)
	rec := httptest.NewRecorder()

	server.handleCompleteSigner(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for re-sign attempt, got %d", rec.Code)
	}
}

func TestHandleCompleteSigner_IdentityMismatch(t *testing.T) {
	server := &Server{
		authService:      sessionAuth(),
		signatureService: &stubSignatureService{completeErr: signing.ErrIdentityMismatch},
	}

	body := strings.NewReader(`{"token":"tok","signature":"sig"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sign/completeSigner", body)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleCompleteSigner(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for identity mismatch, got %d", rec.Code)
	}
}

func TestHandleBillingWebhook(t *testing.T) {
	billingStub := &stubBillingService{}
	server := &Server{billingService: billingStub}

	body := strings.NewReader(`{
		"event_id": "evt-123",
		"type": "customer.subscription.created",
		"user_id": "user-1",
		"plan_id": "pro",
		"current_period_end": "2025-07-01T00:00:00Z"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", body)
	rec := httptest.NewRecorder()

	server.handleBillingWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if billingStub.ev.EventID != "evt-123" || billingStub.ev.PlanID != "pro" {
		t.Errorf("unexpected event: %+v", billingStub.ev)
	}
	if billingStub.ev.CurrentPeriodEnd == nil {
		t.Errorf("expected period end to be parsed")
	}
}

func TestHandleLogin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	server := &Server{authService: &stubAuthService{
		loginResult: auth.LoginResult{
			Token: "session-token",
			User:  auth.User{ID: "user-1", Email: "ava@example.com", FullName: "Ava Stone", Role: auth.RoleArtist, Plan: "free", CreatedAt: now},
		},
	}}

	body := strings.NewReader(`{"email":"ava@example.com","password":"correct horse"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token != "session-token" || resp.User.Email != "ava@example.com" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.User.CreatedAt != now.Format(time.RFC3339) {
		t.Errorf("unexpected created_at %q", resp.User.CreatedAt)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server := &Server{authService: &stubAuthService{loginErr: auth.ErrInvalidCredentials}}

	body := strings.NewReader(`{"email":"ava@example.com","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestHandleAgreementItem_DeleteNonDraft(t *testing.T) {
	server := &Server{
		authService:   sessionAuth(),
		statusService: &stubStatusService{deleteErr: agreement.ErrInvalidState},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/agreements/agreement-1", nil)
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()

	server.handleAgreement(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}
