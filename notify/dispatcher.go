// Package notify sends signature-request messages to signers. Dispatch is
// best-effort relative to the signer mutation: the caller commits first,
// attempts the notification after, and reports failure without retrying.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
)

// ErrNotConfigured signals missing provider settings (sender address,
// API key, or base URL). Operator-facing and fatal for the request.
var ErrNotConfigured = errors.New("notify: not configured")

// TokenIssuer mints the bearer token embedded in the signing link. Each
// dispatch gets a freshly issued token.
type TokenIssuer interface {
	Issue(agreementID, signerID, email string) (string, error)
}

// Dispatcher builds and sends signature-request emails.
type Dispatcher struct {
	mailer  Mailer
	tokens  TokenIssuer
	from    string
	baseURL string
}

func NewDispatcher(mailer Mailer, tokens TokenIssuer, from, baseURL string) *Dispatcher {
	return &Dispatcher{
		mailer:  mailer,
		tokens:  tokens,
		from:    from,
		baseURL: baseURL,
	}
}

var requestTmpl = template.Must(template.New("signature-request").Parse(`<div style="font-family: sans-serif; line-height: 1.6;">
  <h2>Document Signature Request</h2>
  <p>Hello,</p>
  <p>You have been invited to sign the agreement: <strong>&quot;{{.Title}}&quot;</strong>.</p>
  <p>Please review and sign the document through the secure link below:</p>
  <p style="margin: 20px 0;">
    <a href="{{.SigningURL}}" style="background-color: #7c3aed; color: white; padding: 12px 24px; text-decoration: none; border-radius: 8px; font-weight: bold;">
      Review and Sign Agreement
    </a>
  </p>
  <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;" />
  <p style="font-size: 12px; color: #777;">Sent via Muwise.</p>
</div>
`))

// SendSignatureRequest issues a fresh signing token for the signer and
// emails the resulting link. The link stays valid for the token's validity
// window regardless of how often this is called.
func (d *Dispatcher) SendSignatureRequest(ctx context.Context, email, agreementID, signerID, agreementTitle, requesterName string) error {
	if email == "" || agreementID == "" || signerID == "" {
		return fmt.Errorf("notify: email, agreement id, and signer id are required")
	}
	if d.from == "" {
		return fmt.Errorf("%w: sender address", ErrNotConfigured)
	}
	if d.baseURL == "" {
		return fmt.Errorf("%w: base url", ErrNotConfigured)
	}

	token, err := d.tokens.Issue(agreementID, signerID, email)
	if err != nil {
		return fmt.Errorf("notify: issue signing token: %w", err)
	}

	signingURL := fmt.Sprintf("%s/sign/%s?token=%s", d.baseURL, agreementID, url.QueryEscape(token))

	var body bytes.Buffer
	if err := requestTmpl.Execute(&body, struct {
		Title      string
		SigningURL string
	}{Title: agreementTitle, SigningURL: signingURL}); err != nil {
		return fmt.Errorf("notify: render email body: %w", err)
	}

	from := d.from
	if requesterName != "" {
		from = fmt.Sprintf("%q <%s>", requesterName, d.from)
	}

	msg := Message{
		From:    from,
		To:      email,
		ReplyTo: d.from,
		Subject: fmt.Sprintf("Signature request for: %s", agreementTitle),
		HTML:    body.String(),
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: deliver signature request: %w", err)
	}
	return nil
}
