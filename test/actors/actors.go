package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// retryable reports whether the error is expected contention noise: unique
// violations from racing inserts, deadlocks, and serialization aborts.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40P01", "40001":
		return true
	}
	return false
}

// SignerAdder races to attach new signers at position 1 of the same
// agreement: lock the agreement row, shift the tail, insert, recompute the
// signer_emails projection, all in one transaction.
func SignerAdder(ctx context.Context, pool *pgxpool.Pool, agreementID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := func() error {
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)

			var status string
			if err := tx.QueryRow(ctx, `SELECT status FROM agreements WHERE id=$1 FOR UPDATE`, agreementID).Scan(&status); err != nil {
				return err
			}
			if status == "completed" {
				return nil
			}

			if _, err := tx.Exec(ctx, `UPDATE signers SET position = position + 1 WHERE agreement_id=$1 AND position >= 1`, agreementID); err != nil {
				return err
			}

			n := rand.Int63()
			signerID := fmt.Sprintf("signer-%d-%06d", time.Now().UnixMilli(), n%1000000)
			// A small email space makes duplicate rejections common.
			email := fmt.Sprintf("stress%d@example.com", n%40)
			if _, err := tx.Exec(ctx,
				`INSERT INTO signers (id, agreement_id, position, name, email, role, signed) VALUES ($1,$2,1,$3,$4,'Producer',false)`,
				signerID, agreementID, fmt.Sprintf("Stress Signer %d", n%40), email,
			); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `
				UPDATE agreements
				SET signer_emails = COALESCE((SELECT array_agg(s.email ORDER BY s.position) FROM signers s WHERE s.agreement_id = agreements.id), '{}'),
				    last_modified = now(),
				    revision = revision + 1
				WHERE id = $1`, agreementID,
			); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx,
				`INSERT INTO timeline_events (agreement_id, type, payload) VALUES ($1,'SIGNER_ADDED', jsonb_build_object('signer_id',$2::text))`,
				agreementID, signerID,
			); err != nil {
				return err
			}

			return tx.Commit(ctx)
		}()
		if err != nil && !retryable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("signer adder: %w", err)
		}

		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// SignatureWriter picks an unsigned signer and records a signature exactly
// once, bumping the agreement's revision in the same transaction.
func SignatureWriter(ctx context.Context, pool *pgxpool.Pool, agreementID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := func() error {
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)

			var signerID string
			err = tx.QueryRow(ctx, `
				SELECT id FROM signers
				WHERE agreement_id=$1 AND NOT signed
				ORDER BY random() LIMIT 1
				FOR UPDATE SKIP LOCKED`, agreementID,
			).Scan(&signerID)
			if err != nil {
				return nil // nothing to sign right now
			}

			if _, err := tx.Exec(ctx,
				`UPDATE signers SET signed=true, signed_at=now(), signature='stress-signature' WHERE id=$1 AND NOT signed`,
				signerID,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`UPDATE agreements SET last_modified=now(), revision=revision+1 WHERE id=$1`,
				agreementID,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO timeline_events (agreement_id, type, payload) VALUES ($1,'SIGNER_SIGNED', jsonb_build_object('signer_id',$2::text))`,
				agreementID, signerID,
			); err != nil {
				return err
			}

			return tx.Commit(ctx)
		}()
		if err != nil && !retryable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("signature writer: %w", err)
		}

		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// DraftEditor hammers a draft agreement with revision-guarded edits. Stale
// writes are expected and must simply lose, never interleave.
func DraftEditor(ctx context.Context, pool *pgxpool.Pool, agreementID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var revision int64
		if err := pool.QueryRow(ctx, `SELECT revision FROM agreements WHERE id=$1`, agreementID).Scan(&revision); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("draft editor read: %w", err)
		}

		// Deliberately racy: another editor may bump the revision between the
		// read and this write, in which case zero rows match.
		_, err := pool.Exec(ctx, `
			UPDATE agreements
			SET title = $2, last_modified = now(), revision = revision + 1
			WHERE id = $1 AND status = 'draft' AND revision = $3`,
			agreementID, fmt.Sprintf("Draft edit %d", rand.Int63()), revision,
		)
		if err != nil && !retryable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("draft editor write: %w", err)
		}

		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// WebhookReplayer replays the same provider event id over and over. The
// idempotency guard must collapse every replay into one applied effect.
func WebhookReplayer(ctx context.Context, pool *pgxpool.Pool, userID, eventID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := func() error {
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)

			if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, eventID); err != nil {
				return err // duplicate key on every replay after the first
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO subscriptions (user_id, plan_id, status) VALUES ($1,'pro','active')
				ON CONFLICT (user_id) DO UPDATE SET plan_id='pro', status='active', updated_at=now()`,
				userID,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE users SET plan='pro', updated_at=now() WHERE id=$1`, userID); err != nil {
				return err
			}

			return tx.Commit(ctx)
		}()
		if err != nil && !retryable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("webhook replayer: %w", err)
		}

		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
