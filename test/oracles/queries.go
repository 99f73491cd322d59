package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_projection_matches_signers",
			SQL: `SELECT a.id FROM agreements a
                  WHERE a.signer_emails IS DISTINCT FROM COALESCE(
                      (SELECT array_agg(s.email ORDER BY s.position) FROM signers s WHERE s.agreement_id = a.id),
                      '{}')`,
		},
		{
			Name: "O2_creator_anchored",
			SQL: `SELECT agreement_id FROM signers WHERE position = 0 AND role <> 'Creator'
                  UNION ALL
                  SELECT a.id FROM agreements a
                  WHERE NOT EXISTS (SELECT 1 FROM signers s WHERE s.agreement_id = a.id AND s.position = 0)`,
		},
		{
			Name: "O3_positions_unique",
			SQL: `SELECT agreement_id, position, COUNT(*) FROM signers
                  GROUP BY agreement_id, position HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_emails_unique",
			SQL: `SELECT agreement_id, email, COUNT(*) FROM signers
                  GROUP BY agreement_id, email HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_signature_consistency",
			SQL: `SELECT id FROM signers
                  WHERE (signed AND (signed_at IS NULL OR signature IS NULL))
                     OR (NOT signed AND (signed_at IS NOT NULL OR signature IS NOT NULL))`,
		},
		{
			Name: "O6_completed_has_pdf",
			SQL:  `SELECT id FROM agreements WHERE status = 'completed' AND pdf_url IS NULL`,
		},
		{
			Name: "O7_revision_sane",
			SQL:  `SELECT id FROM agreements WHERE revision < 1 OR last_modified < created_at`,
		},
		{
			Name: "O8_subscription_plan_mirror",
			SQL: `SELECT s.user_id FROM subscriptions s
                  JOIN users u ON u.id = s.user_id
                  WHERE (s.status = 'active' AND u.plan <> s.plan_id)
                     OR (s.status <> 'active' AND u.plan <> 'free')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
