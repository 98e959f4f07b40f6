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

// SQLiteRepository persists mfa records in SQLite. Timestamps are stored
// as RFC3339 text.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository bound to the given database.
// The schema must already be migrated, see OpenSQLite.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func (r *SQLiteRepository) CreateEnrollment(ctx context.Context, e *mfa.Enrollment) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
		INSERT INTO mfa_enrollments (id, user_id, method, status, device_info, metadata, created_at, last_used_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.UserID, string(e.Method), string(e.Status), e.DeviceInfo, string(meta), fmtTime(e.CreatedAt), e.UsageCount); err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) scanEnrollment(row *sql.Row) (*mfa.Enrollment, error) {
	e := &mfa.Enrollment{}
	var method, status, meta, createdAt string
	var lastUsedAt sql.NullString
	if err := row.Scan(&e.ID, &e.UserID, &method, &status, &e.DeviceInfo, &meta, &createdAt, &lastUsedAt, &e.UsageCount); err != nil {
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
	var err error
	if e.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		if e.LastUsedAt, err = parseStoredTime(lastUsedAt.String); err != nil {
			return nil, err
		}
	}
	return e, nil
}

const sqliteEnrollmentColumns = `id, user_id, method, status, device_info, metadata, created_at, last_used_at, usage_count`

func (r *SQLiteRepository) GetEnrollment(ctx context.Context, id string) (*mfa.Enrollment, error) {
	query := `SELECT ` + sqliteEnrollmentColumns + ` FROM mfa_enrollments WHERE id = ?`
	return r.scanEnrollment(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) GetActiveEnrollment(ctx context.Context, userID string, method mfa.Method) (*mfa.Enrollment, error) {
	query := `SELECT ` + sqliteEnrollmentColumns + ` FROM mfa_enrollments WHERE user_id = ? AND method = ? AND status = 'active'`
	return r.scanEnrollment(r.db.QueryRowContext(ctx, query, userID, string(method)))
}

func (r *SQLiteRepository) ListEnrollments(ctx context.Context, userID string) ([]*mfa.Enrollment, error) {
	query := `SELECT ` + sqliteEnrollmentColumns + ` FROM mfa_enrollments WHERE user_id = ? ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select enrollments: %w", err)
	}
	defer rows.Close()

	var result []*mfa.Enrollment
	for rows.Next() {
		e := &mfa.Enrollment{}
		var method, status, meta, createdAt string
		var lastUsedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &method, &status, &e.DeviceInfo, &meta, &createdAt, &lastUsedAt, &e.UsageCount); err != nil {
			return nil, err
		}
		e.Method = mfa.Method(method)
		e.Status = mfa.EnrollmentStatus(status)
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		if e.CreatedAt, err = parseStoredTime(createdAt); err != nil {
			return nil, err
		}
		if lastUsedAt.Valid {
			if e.LastUsedAt, err = parseStoredTime(lastUsedAt.String); err != nil {
				return nil, err
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) UpdateEnrollment(ctx context.Context, e *mfa.Enrollment) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	var lastUsed any
	if !e.LastUsedAt.IsZero() {
		lastUsed = fmtTime(e.LastUsedAt)
	}
	query := `
		UPDATE mfa_enrollments
		SET status = ?, device_info = ?, metadata = ?, last_used_at = ?, usage_count = ?
		WHERE id = ?
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

func (r *SQLiteRepository) SaveVerificationCode(ctx context.Context, c *mfa.VerificationCode) error {
	query := `
		INSERT INTO mfa_verification_codes (user_id, method, code_hash, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, method) DO UPDATE SET code_hash = excluded.code_hash,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			used = excluded.used
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.UserID, string(c.Method), c.CodeHash, fmtTime(c.CreatedAt), fmtTime(c.ExpiresAt), boolToInt(c.Used)); err != nil {
		return fmt.Errorf("failed to upsert verification code: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetVerificationCode(ctx context.Context, userID string, method mfa.Method) (*mfa.VerificationCode, error) {
	query := `SELECT code_hash, created_at, expires_at, used FROM mfa_verification_codes WHERE user_id = ? AND method = ?`
	c := &mfa.VerificationCode{UserID: userID, Method: method}
	var createdAt, expiresAt string
	var used int
	if err := r.db.QueryRowContext(ctx, query, userID, string(method)).Scan(&c.CodeHash, &createdAt, &expiresAt, &used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	var err error
	if c.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseStoredTime(expiresAt); err != nil {
		return nil, err
	}
	c.Used = used != 0
	return c, nil
}

func (r *SQLiteRepository) MarkVerificationCodeUsed(ctx context.Context, userID string, method mfa.Method) error {
	query := `UPDATE mfa_verification_codes SET used = 1 WHERE user_id = ? AND method = ? AND used = 0`
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

// ReplaceBackupCodes swaps the full code set atomically so a crash can
// never leave a mix of old and new codes.
func (r *SQLiteRepository) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, createdAt time.Time) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		query := `INSERT INTO mfa_backup_codes (user_id, code_hash, used, created_at) VALUES (?, ?, 0, ?)`
		for _, h := range hashes {
			if _, err := tx.ExecContext(ctx, query, userID, h, fmtTime(createdAt)); err != nil {
				return fmt.Errorf("failed to insert backup code: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) ListBackupCodes(ctx context.Context, userID string) ([]*mfa.BackupCode, error) {
	query := `SELECT code_hash, used, created_at FROM mfa_backup_codes WHERE user_id = ?`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select backup codes: %w", err)
	}
	defer rows.Close()

	var result []*mfa.BackupCode
	for rows.Next() {
		c := &mfa.BackupCode{UserID: userID}
		var used int
		var createdAt string
		if err := rows.Scan(&c.CodeHash, &used, &createdAt); err != nil {
			return nil, err
		}
		c.Used = used != 0
		if c.CreatedAt, err = parseStoredTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkBackupCodeUsed(ctx context.Context, userID string, codeHash string) error {
	query := `UPDATE mfa_backup_codes SET used = 1 WHERE user_id = ? AND code_hash = ? AND used = 0`
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
