package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/dbx"
	"github.com/avagner/sessionguard/internal/mfa"
)

// PostgresRepository persists mfa records in PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository bound to the given database.
// The schema must already be migrated, see OpenPostgres.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateEnrollment(ctx context.Context, e *mfa.Enrollment) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
		INSERT INTO mfa_enrollments (id, user_id, method, status, device_info, metadata, created_at, last_used_at, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.UserID, string(e.Method), string(e.Status), e.DeviceInfo, string(meta), e.CreatedAt, e.UsageCount); err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

const pgEnrollmentColumns = `id, user_id, method, status, device_info, metadata, created_at, last_used_at, usage_count`

func (r *PostgresRepository) scanEnrollment(row *sql.Row) (*mfa.Enrollment, error) {
	e := &mfa.Enrollment{}
	var method, status, meta string
	var lastUsedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.UserID, &method, &status, &e.DeviceInfo, &meta, &e.CreatedAt, &lastUsedAt, &e.UsageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	e.Method = mfa.Method(method)
	e.Status = mfa.EnrollmentStatus(status)
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if lastUsedAt.Valid {
		e.LastUsedAt = lastUsedAt.Time
	}
	return e, nil
}

func (r *PostgresRepository) GetEnrollment(ctx context.Context, id string) (*mfa.Enrollment, error) {
	query := `SELECT ` + pgEnrollmentColumns + ` FROM mfa_enrollments WHERE id = $1`
	return r.scanEnrollment(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetActiveEnrollment(ctx context.Context, userID string, method mfa.Method) (*mfa.Enrollment, error) {
	query := `SELECT ` + pgEnrollmentColumns + ` FROM mfa_enrollments WHERE user_id = $1 AND method = $2 AND status = 'active'`
	return r.scanEnrollment(r.db.QueryRowContext(ctx, query, userID, string(method)))
}

func (r *PostgresRepository) ListEnrollments(ctx context.Context, userID string) ([]*mfa.Enrollment, error) {
	query := `SELECT ` + pgEnrollmentColumns + ` FROM mfa_enrollments WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select enrollments: %w", err)
	}
	defer rows.Close()

	var result []*mfa.Enrollment
	for rows.Next() {
		e := &mfa.Enrollment{}
		var method, status, meta string
		var lastUsedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.UserID, &method, &status, &e.DeviceInfo, &meta, &e.CreatedAt, &lastUsedAt, &e.UsageCount); err != nil {
			return nil, err
		}
		e.Method = mfa.Method(method)
		e.Status = mfa.EnrollmentStatus(status)
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		if lastUsedAt.Valid {
			e.LastUsedAt = lastUsedAt.Time
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) UpdateEnrollment(ctx context.Context, e *mfa.Enrollment) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	var lastUsed sql.NullTime
	if !e.LastUsedAt.IsZero() {
		lastUsed = sql.NullTime{Time: e.LastUsedAt, Valid: true}
	}
	query := `
		UPDATE mfa_enrollments
		SET status = $1, device_info = $2, metadata = $3, last_used_at = $4, usage_count = $5
		WHERE id = $6
	`
	res, err := r.db.ExecContext(ctx, query, string(e.Status), e.DeviceInfo, string(meta), lastUsed, e.UsageCount, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SaveVerificationCode(ctx context.Context, c *mfa.VerificationCode) error {
	query := `
		INSERT INTO mfa_verification_codes (user_id, method, code_hash, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, method) DO UPDATE SET code_hash = excluded.code_hash,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			used = excluded.used
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.UserID, string(c.Method), c.CodeHash, c.CreatedAt, c.ExpiresAt, c.Used); err != nil {
		return fmt.Errorf("failed to upsert verification code: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetVerificationCode(ctx context.Context, userID string, method mfa.Method) (*mfa.VerificationCode, error) {
	query := `SELECT code_hash, created_at, expires_at, used FROM mfa_verification_codes WHERE user_id = $1 AND method = $2`
	c := &mfa.VerificationCode{UserID: userID, Method: method}
	if err := r.db.QueryRowContext(ctx, query, userID, string(method)).Scan(&c.CodeHash, &c.CreatedAt, &c.ExpiresAt, &c.Used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) MarkVerificationCodeUsed(ctx context.Context, userID string, method mfa.Method) error {
	query := `UPDATE mfa_verification_codes SET used = TRUE WHERE user_id = $1 AND method = $2 AND used = FALSE`
	res, err := r.db.ExecContext(ctx, query, userID, string(method))
	if err != nil {
		return fmt.Errorf("failed to mark code used: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, createdAt time.Time) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		query := `INSERT INTO mfa_backup_codes (user_id, code_hash, used, created_at) VALUES ($1, $2, FALSE, $3)`
		for _, h := range hashes {
			if _, err := tx.ExecContext(ctx, query, userID, h, createdAt); err != nil {
				return fmt.Errorf("failed to insert backup code: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) ListBackupCodes(ctx context.Context, userID string) ([]*mfa.BackupCode, error) {
	query := `SELECT code_hash, used, created_at FROM mfa_backup_codes WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select backup codes: %w", err)
	}
	defer rows.Close()

	var result []*mfa.BackupCode
	for rows.Next() {
		c := &mfa.BackupCode{UserID: userID}
		if err := rows.Scan(&c.CodeHash, &c.Used, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MarkBackupCodeUsed(ctx context.Context, userID string, codeHash string) error {
	query := `UPDATE mfa_backup_codes SET used = TRUE WHERE user_id = $1 AND code_hash = $2 AND used = FALSE`
	res, err := r.db.ExecContext(ctx, query, userID, codeHash)
	if err != nil {
		return fmt.Errorf("failed to mark backup code used: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}
