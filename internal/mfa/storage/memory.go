// Package storage provides Repository implementations for the mfa
// package: an in-memory store for tests and single-process use, plus
// SQLite and PostgreSQL stores sharing one schema.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/mfa"
)

// MemoryRepository keeps all records in process memory. Safe for
// concurrent use.
type MemoryRepository struct {
	mu          sync.RWMutex
	enrollments map[string]*mfa.Enrollment        // by id
	codes       map[string]*mfa.VerificationCode  // by userID/method
	backupCodes map[string][]*mfa.BackupCode      // by userID
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		enrollments: make(map[string]*mfa.Enrollment),
		codes:       make(map[string]*mfa.VerificationCode),
		backupCodes: make(map[string][]*mfa.BackupCode),
	}
}

func codeKey(userID string, method mfa.Method) string {
	return userID + "/" + string(method)
}

func cloneEnrollment(e *mfa.Enrollment) *mfa.Enrollment {
	c := *e
	c.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (r *MemoryRepository) CreateEnrollment(ctx context.Context, e *mfa.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.enrollments[e.ID]; ok {
		return fmt.Errorf("enrollment %s already exists", e.ID)
	}
	r.enrollments[e.ID] = cloneEnrollment(e)
	return nil
}

func (r *MemoryRepository) GetEnrollment(ctx context.Context, id string) (*mfa.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enrollments[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneEnrollment(e), nil
}

func (r *MemoryRepository) GetActiveEnrollment(ctx context.Context, userID string, method mfa.Method) (*mfa.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.enrollments {
		if e.UserID == userID && e.Method == method && e.Status == mfa.EnrollmentActive {
			return cloneEnrollment(e), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) ListEnrollments(ctx context.Context, userID string) ([]*mfa.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*mfa.Enrollment
	for _, e := range r.enrollments {
		if e.UserID == userID {
			result = append(result, cloneEnrollment(e))
		}
	}
	return result, nil
}

func (r *MemoryRepository) UpdateEnrollment(ctx context.Context, e *mfa.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.enrollments[e.ID]; !ok {
		return common.ErrNotFound
	}
	r.enrollments[e.ID] = cloneEnrollment(e)
	return nil
}

func (r *MemoryRepository) SaveVerificationCode(ctx context.Context, c *mfa.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := *c
	r.codes[codeKey(c.UserID, c.Method)] = &cc
	return nil
}

func (r *MemoryRepository) GetVerificationCode(ctx context.Context, userID string, method mfa.Method) (*mfa.VerificationCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[codeKey(userID, method)]
	if !ok {
		return nil, common.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *MemoryRepository) MarkVerificationCodeUsed(ctx context.Context, userID string, method mfa.Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeKey(userID, method)]
	if !ok || c.Used {
		return common.ErrNotFound
	}
	c.Used = true
	return nil
}

func (r *MemoryRepository) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, createdAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]*mfa.BackupCode, len(hashes))
	for i, h := range hashes {
		codes[i] = &mfa.BackupCode{UserID: userID, CodeHash: h, CreatedAt: createdAt}
	}
	r.backupCodes[userID] = codes
	return nil
}

func (r *MemoryRepository) ListBackupCodes(ctx context.Context, userID string) ([]*mfa.BackupCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.backupCodes[userID]
	result := make([]*mfa.BackupCode, len(src))
	for i, c := range src {
		cc := *c
		result[i] = &cc
	}
	return result, nil
}

func (r *MemoryRepository) MarkBackupCodeUsed(ctx context.Context, userID string, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.backupCodes[userID] {
		if c.CodeHash == codeHash && !c.Used {
			c.Used = true
			return nil
		}
	}
	return common.ErrNotFound
}
