package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"muwise/agreement"
	"muwise/auth"
	"muwise/billing"
	"muwise/signing"
)

// Service interfaces consumed by the HTTP layer. Kept narrow so handler
// tests can stub them.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	UpdateProfile(ctx context.Context, userID string, params auth.UpdateProfileParams) (*auth.User, error)
	UploadProfilePhoto(ctx context.Context, userID, filename string, data []byte) (*auth.User, error)
	VerifyToken(token string) (auth.Identity, error)
}

type AgreementService interface {
	Create(ctx context.Context, params agreement.CreateParams) (agreement.Agreement, error)
	Get(ctx context.Context, agreementID string) (agreement.Agreement, error)
	UpdateDraft(ctx context.Context, params agreement.UpdateDraftParams) (int64, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	Timeline(ctx context.Context, agreementID string) ([]agreement.TimelineEvent, error)
}

type SignerService interface {
	AddSigner(ctx context.Context, params agreement.AddSignerParams) (agreement.AddSignerResult, error)
}

type SignatureService interface {
	GetSignerByToken(ctx context.Context, token, sessionEmail string) (agreement.SignerView, error)
	CompleteByToken(ctx context.Context, token, sessionEmail, signature string) (time.Time, error)
}

type StatusService interface {
	Transition(ctx context.Context, params agreement.TransitionParams) (agreement.TransitionResult, error)
	Delete(ctx context.Context, agreementID, actorID string) error
}

type BillingService interface {
	HandleProviderWebhook(ctx context.Context, ev billing.WebhookEvent) error
}

type BillingReader interface {
	GetSubscription(ctx context.Context, userID string) (billing.Subscription, error)
	ListPlans(ctx context.Context) ([]billing.Plan, error)
}

// Server wires the domain services to HTTP routes.
type Server struct {
	authService      AuthService
	agreementService AgreementService
	signerService    SignerService
	signatureService SignatureService
	statusService    StatusService
	billingService   BillingService
	billingReader    BillingReader
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/me", s.handleMe)
	mux.HandleFunc("/api/users/profile", s.handleProfile)
	mux.HandleFunc("/api/users/profile-photo", s.handleProfilePhoto)
	mux.HandleFunc("/api/agreements", s.handleAgreements)
	mux.HandleFunc("/api/agreements/", s.handleAgreement)
	mux.HandleFunc("/api/sign/getSigner", s.handleGetSigner)
	mux.HandleFunc("/api/sign/completeSigner", s.handleCompleteSigner)
	mux.HandleFunc("/api/billing/webhook", s.handleBillingWebhook)
	mux.HandleFunc("/api/billing/plans", s.handlePlans)
	mux.HandleFunc("/api/billing/subscription", s.handleSubscription)
	return mux
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponseFrom(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  userResponseFrom(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	user, err := s.authService.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponseFrom(*user))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		FullName   *string `json:"full_name"`
		ArtistName *string `json:"artist_name"`
		Phone      *string `json:"phone"`
		Bio        *string `json:"bio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.UpdateProfile(r.Context(), identity.UserID, auth.UpdateProfileParams{
		FullName:   req.FullName,
		ArtistName: req.ArtistName,
		Phone:      req.Phone,
		Bio:        req.Bio,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponseFrom(*user))
}

const maxPhotoBytes = 5 << 20

func (s *Server) handleProfilePhoto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("profilePhoto")
	if err != nil {
		writeError(w, http.StatusBadRequest, "profilePhoto file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read photo payload")
		return
	}
	if len(data) > maxPhotoBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "photo exceeds size limit")
		return
	}

	user, err := s.authService.UploadProfilePhoto(r.Context(), identity.UserID, header.Filename, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponseFrom(*user))
}

// --- agreements ---

func (s *Server) handleAgreements(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := s.authService.GetUserByID(r.Context(), identity.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		ag, err := s.agreementService.Create(r.Context(), agreement.CreateParams{
			Title:   req.Title,
			Content: req.Content,
			Creator: agreement.CreatorInfo{
				UserID: user.ID,
				Email:  user.Email,
				Name:   user.FullName,
			},
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, agreementResponseFrom(ag))

	case http.MethodGet:
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		items, total, err := s.agreementService.List(r.Context(), agreement.ListFilters{
			UserID:   identity.UserID,
			Email:    identity.Email,
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := listResponse{Total: total, Items: make([]agreementResponse, 0, len(items))}
		for _, ag := range items {
			resp.Items = append(resp.Items, agreementResponseFrom(ag))
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAgreement(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agreements/")
	if rest == "" || rest == r.URL.Path {
		writeError(w, http.StatusBadRequest, "agreement id required")
		return
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	agreementID := parts[0]

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 1:
		s.handleAgreementItem(w, r, identity, agreementID)
	case len(parts) == 2 && parts[1] == "signers":
		s.handleAddSigner(w, r, identity, agreementID)
	case len(parts) == 2 && parts[1] == "status":
		s.handleStatusTransition(w, r, identity, agreementID)
	case len(parts) == 2 && parts[1] == "timeline":
		s.handleTimeline(w, r, agreementID)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleAgreementItem(w http.ResponseWriter, r *http.Request, identity auth.Identity, agreementID string) {
	switch r.Method {
	case http.MethodGet:
		ag, err := s.agreementService.Get(r.Context(), agreementID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agreementResponseFrom(ag))

	case http.MethodPut:
		var req struct {
			Title    string `json:"title"`
			Content  string `json:"content"`
			Revision int64  `json:"revision"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		revision, err := s.agreementService.UpdateDraft(r.Context(), agreement.UpdateDraftParams{
			AgreementID: agreementID,
			Title:       req.Title,
			Content:     req.Content,
			Revision:    req.Revision,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": revision})

	case http.MethodDelete:
		if err := s.statusService.Delete(r.Context(), agreementID, identity.UserID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Status: "success", Message: "Draft agreement deleted successfully."})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAddSigner(w http.ResponseWriter, r *http.Request, identity auth.Identity, agreementID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Name              string `json:"name"`
		Email             string `json:"email"`
		Role              string `json:"role"`
		DeferNotification bool   `json:"defer_notification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.signerService.AddSigner(r.Context(), agreement.AddSignerParams{
		AgreementID:       agreementID,
		ActorID:           identity.UserID,
		Signer:            agreement.SignerParams{Name: req.Name, Email: req.Email, Role: req.Role},
		DeferNotification: req.DeferNotification,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := actionResponse{
		Status:  "success",
		Message: "Signer added successfully.",
		Data:    map[string]any{"signerId": result.Signer.ID},
	}
	// The signer is committed even when delivery fails; surface a warning so
	// the UI can offer a manual resend.
	if result.EmailErr != nil {
		resp.Status = "warning"
		resp.Message = "Signer added, but the signature request email could not be sent."
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleStatusTransition(w http.ResponseWriter, r *http.Request, identity auth.Identity, agreementID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.statusService.Transition(r.Context(), agreement.TransitionParams{
		AgreementID: agreementID,
		ActorID:     identity.UserID,
		NextStatus:  agreement.Status(req.Status),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"previous_status": result.PreviousStatus,
		"status":          result.NextStatus,
	}
	if result.PDFURL != nil {
		resp["pdf_url"] = *result.PDFURL
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, agreementID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	events, err := s.agreementService.Timeline(r.Context(), agreementID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]timelineResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, timelineResponse{
			ID:        ev.ID,
			Type:      ev.Type,
			ActorID:   ev.ActorID,
			Payload:   json.RawMessage(ev.Payload),
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- signing links ---

func (s *Server) handleGetSigner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	sessionEmail, ok := s.optionalSessionEmail(w, r)
	if !ok {
		return
	}

	view, err := s.signatureService.GetSignerByToken(r.Context(), token, sessionEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, signerViewResponse{
		Email:          view.Email,
		AgreementTitle: view.AgreementTitle,
		Status:         view.Status,
		DocumentURL:    view.DocumentURL,
	})
}

func (s *Server) handleCompleteSigner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Token     string `json:"token"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	sessionEmail, ok := s.optionalSessionEmail(w, r)
	if !ok {
		return
	}

	signedAt, err := s.signatureService.CompleteByToken(r.Context(), req.Token, sessionEmail, req.Signature)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Document signed successfully.",
		"signed_at": signedAt.Format(time.RFC3339),
	})
}

// --- billing ---

func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		EventID                string  `json:"event_id"`
		Type                   string  `json:"type"`
		UserID                 string  `json:"user_id"`
		PlanID                 string  `json:"plan_id"`
		Status                 string  `json:"status"`
		ProviderCustomerID     string  `json:"provider_customer_id"`
		ProviderSubscriptionID string  `json:"provider_subscription_id"`
		CurrentPeriodEnd       *string `json:"current_period_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev := billing.WebhookEvent{
		EventID:                req.EventID,
		Type:                   req.Type,
		UserID:                 req.UserID,
		PlanID:                 req.PlanID,
		Status:                 req.Status,
		ProviderCustomerID:     req.ProviderCustomerID,
		ProviderSubscriptionID: req.ProviderSubscriptionID,
	}
	if req.CurrentPeriodEnd != nil {
		t, err := time.Parse(time.RFC3339, *req.CurrentPeriodEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid current_period_end")
			return
		}
		ev.CurrentPeriodEnd = &t
	}

	if err := s.billingService.HandleProviderWebhook(r.Context(), ev); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	plans, err := s.billingReader.ListPlans(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, planResponse{
			ID:         p.ID,
			Name:       p.Name,
			PriceCents: p.PriceCents,
			Interval:   p.Interval,
			Features:   p.Features,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	sub, err := s.billingReader.GetSubscription(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := subscriptionResponse{
		PlanID: sub.PlanID,
		Status: sub.Status,
	}
	if sub.CurrentPeriodEnd != nil {
		formatted := sub.CurrentPeriodEnd.Format(time.RFC3339)
		resp.CurrentPeriodEnd = &formatted
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	identity, err := s.authService.VerifyToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return auth.Identity{}, false
	}
	return identity, true
}

// optionalSessionEmail supports the guest signing flow: no session header
// means anonymous, a present but invalid session is rejected.
func (s *Server) optionalSessionEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		return "", true
	}
	identity, err := s.authService.VerifyToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return "", false
	}
	return identity.Email, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, agreement.ErrNotFound),
		errors.Is(err, agreement.ErrSignerNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, signing.ErrInvalidToken):
		return http.StatusNotFound
	case errors.Is(err, agreement.ErrDuplicateSigner),
		errors.Is(err, agreement.ErrInvalidState),
		errors.Is(err, agreement.ErrStaleRevision),
		errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, agreement.ErrAlreadySigned),
		errors.Is(err, signing.ErrExpiredToken),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, signing.ErrIdentityMismatch):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
