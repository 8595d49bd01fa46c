package usage

import (
	"context"
	"database/sql"
	"time"

	"callhelm/pkg/db"
)

// Repo abstracts plan lookup and the usage ledger.
type Repo interface {
	GetPlan(ctx context.Context, orgID string) (Plan, bool, error)

	// AppendEvent posts one ledger row. A duplicate org+idempotency key is a
	// no-op returning the existing row.
	AppendEvent(ctx context.Context, ev UsageEvent) (UsageEvent, error)

	// SumMinutesSince derives the period counter from ledger rows.
	SumMinutesSince(ctx context.Context, orgID string, since time.Time) (int, error)
}

// PostgresRepo implements Repo over database/sql.
type PostgresRepo struct {
	database *sql.DB
}

func NewPostgresRepo(database *sql.DB) *PostgresRepo {
	return &PostgresRepo{database: database}
}

func (r *PostgresRepo) GetPlan(ctx context.Context, orgID string) (Plan, bool, error) {
	var p Plan
	err := r.database.QueryRowContext(ctx, `
		SELECT org_id, tier, included_minutes, period_start, created_at, updated_at
		FROM org_plans WHERE org_id = $1`, orgID).
		Scan(&p.OrgID, &p.Tier, &p.IncludedMinutes, &p.PeriodStart, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Plan{}, false, nil
	}
	if err != nil {
		return Plan{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, ev UsageEvent) (UsageEvent, error) {
	out := ev
	err := db.WithTx(ctx, r.database, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var existing UsageEvent
		err := tx.QueryRowContext(ctx, `
			SELECT id, org_id, type, minutes, external_ref, idempotency_key, created_at
			FROM usage_events
			WHERE org_id = $1 AND idempotency_key = $2`, ev.OrgID, ev.IdempotencyKey).
			Scan(&existing.ID, &existing.OrgID, &existing.Type, &existing.Minutes,
				&existing.ExternalRef, &existing.IdempotencyKey, &existing.CreatedAt)
		if err == nil {
			out = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_events (id, org_id, type, minutes, external_ref, idempotency_key, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ev.ID, ev.OrgID, ev.Type, ev.Minutes, ev.ExternalRef, ev.IdempotencyKey, ev.CreatedAt)
		return err
	})
	if err != nil {
		return UsageEvent{}, err
	}
	return out, nil
}

func (r *PostgresRepo) SumMinutesSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	var sum int
	err := r.database.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(minutes), 0) FROM usage_events
		WHERE org_id = $1 AND created_at >= $2`, orgID, since).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}
