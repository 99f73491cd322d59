package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"muwise/agreement"
	"muwise/auth"
	"muwise/billing"
	"muwise/db"
	"muwise/notify"
	"muwise/pdf"
	"muwise/signing"
	"muwise/storage"
)

func main() {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	signingSecret := os.Getenv("SIGNING_SECRET")
	tokens, err := signing.NewTokenService(signingSecret)
	if err != nil {
		log.Fatalf("bootstrap signing tokens: %v", err)
	}

	store, err := storage.NewLocalStore(envOr("STORAGE_DIR", "./data"), os.Getenv("BASE_URL")+"/files")
	if err != nil {
		log.Fatalf("bootstrap object store: %v", err)
	}

	mailer := notify.NewResendMailer(os.Getenv("RESEND_API_KEY"))
	dispatcher := notify.NewDispatcher(mailer, tokens, os.Getenv("EMAIL_FROM"), os.Getenv("BASE_URL"))
	renderer := pdf.NewHTTPRenderer(os.Getenv("PDF_RENDER_URL"))

	agreementRepo := agreement.NewRepository(pool)
	authRepo := auth.NewRepository(pool)
	billingRepo := billing.NewRepository(pool)

	server := &Server{
		authService:      auth.NewService(authRepo, store, os.Getenv("JWT_SECRET")),
		agreementService: agreement.NewCRUDService(pool, agreementRepo),
		signerService:    agreement.NewSignerService(pool, agreementRepo, dispatcher),
		signatureService: agreement.NewSignatureService(pool, agreementRepo, tokens),
		statusService:    agreement.NewStatusService(pool, agreementRepo, renderer, store),
		billingService:   billing.NewService(pool, billingRepo),
		billingReader:    billingRepo,
	}

	addr := envOr("LISTEN_ADDR", ":8080")
	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("serve api: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
