package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kweiss/Wardex/pkg/models"
)

// PostgresStore persists the shield's audit log and session key
// registry. Grounded on the teacher's internal/db/postgres.go: same
// pgxpool connection/ping/InitSchema shape, repointed from CoinJoin
// heuristics/evidence tables at Wardex's audit_log/session_keys/
// shadow_results tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Wardex audit storage")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetPool exposes the connection pool for the shield's ShadowRunner
// and other subsystems.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Wardex audit schema initialized")
	return nil
}

// SaveAuditEntry persists one evaluation's audit record. A handful of
// fields are pulled out of the entry into indexed columns for fast
// filtering; the full entry is kept as JSONB so nothing about a
// verdict is ever lossy.
func (s *PostgresStore) SaveAuditEntry(ctx context.Context, entry models.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %v", err)
	}

	sql := `
		INSERT INTO audit_log
			(evaluation_id, occurred_at, to_address, chain_id, decision, composite_score, tier_id, policy_version, source_id, executed, entry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (evaluation_id) DO UPDATE
		SET executed = EXCLUDED.executed, entry = EXCLUDED.entry;
	`
	_, err = s.pool.Exec(ctx, sql,
		entry.EvaluationID,
		entry.Timestamp,
		entry.Transaction.To,
		entry.Transaction.ChainID,
		string(entry.Verdict.Decision),
		entry.Verdict.Scores.Composite,
		entry.Verdict.TierID,
		entry.Verdict.PolicyVersion,
		entry.Context.SourceID,
		entry.Executed,
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %v", err)
	}
	return nil
}

// MarkAuditEntryExecuted flips the executed flag once the signer has
// actually produced a signature for the evaluated transaction.
func (s *PostgresStore) MarkAuditEntryExecuted(ctx context.Context, evaluationID string) error {
	sql := `UPDATE audit_log SET executed = TRUE WHERE evaluation_id = $1`
	_, err := s.pool.Exec(ctx, sql, evaluationID)
	return err
}

// AuditHistory returns the most recent audit entries, newest first,
// paginated the same way the teacher's GetMixers paginates mixer hits.
func (s *PostgresStore) AuditHistory(ctx context.Context, page int, limit int) ([]models.AuditEntry, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	sql := `SELECT entry FROM audit_log ORDER BY occurred_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, err
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, totalCount, nil
}

// SaveSessionKey upserts a session key's persisted fields. Private key
// material is never part of this struct and is never written here;
// see internal/session.Manager's parallel in-memory secrets map.
func (s *PostgresStore) SaveSessionKey(ctx context.Context, key models.SessionKey) error {
	allowed, err := json.Marshal(key.AllowedContracts)
	if err != nil {
		return fmt.Errorf("marshal allowed contracts: %v", err)
	}

	sql := `
		INSERT INTO session_keys
			(id, public_address, allowed_contracts, max_value_per_tx, max_daily_volume, start_time, duration_seconds, daily_used, daily_used_day, revoked, forbid_infinite_approvals, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE
		SET daily_used = EXCLUDED.daily_used,
		    daily_used_day = EXCLUDED.daily_used_day,
		    revoked = EXCLUDED.revoked,
		    updated_at = NOW();
	`
	_, err = s.pool.Exec(ctx, sql,
		key.ID,
		key.PublicAddress,
		allowed,
		uintToDecimalOrNil(key.MaxValuePerTx),
		uintToDecimalOrNil(key.MaxDailyVolume),
		key.Start,
		key.DurationSeconds,
		uintToDecimalOrNil(key.DailyUsed),
		key.DailyUsedDay,
		key.Revoked,
		key.ForbidInfiniteApprovals,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session key: %v", err)
	}
	return nil
}

// LoadActiveSessionKeys returns every non-revoked session key, for
// rehydrating a session.Manager on process restart.
func (s *PostgresStore) LoadActiveSessionKeys(ctx context.Context) ([]models.SessionKey, error) {
	sql := `
		SELECT id, public_address, allowed_contracts, max_value_per_tx, max_daily_volume,
		       start_time, duration_seconds, daily_used, daily_used_day, revoked, forbid_infinite_approvals
		FROM session_keys WHERE revoked = FALSE
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.SessionKey
	for rows.Next() {
		var key models.SessionKey
		var allowedRaw []byte
		var maxPerTx, maxDaily, dailyUsed *string

		if err := rows.Scan(&key.ID, &key.PublicAddress, &allowedRaw, &maxPerTx, &maxDaily,
			&key.Start, &key.DurationSeconds, &dailyUsed, &key.DailyUsedDay, &key.Revoked, &key.ForbidInfiniteApprovals); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(allowedRaw, &key.AllowedContracts); err != nil {
			return nil, err
		}
		if key.MaxValuePerTx, err = decimalToUintOrNil(maxPerTx); err != nil {
			return nil, err
		}
		if key.MaxDailyVolume, err = decimalToUintOrNil(maxDaily); err != nil {
			return nil, err
		}
		if key.DailyUsed, err = decimalToUintOrNil(dailyUsed); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if keys == nil {
		keys = []models.SessionKey{}
	}
	return keys, nil
}

func uintToDecimalOrNil(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func decimalToUintOrNil(s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, err := uint256.FromDecimal(*s)
	if err != nil {
		return nil, fmt.Errorf("parse stored uint256 %q: %v", *s, err)
	}
	return v, nil
}
