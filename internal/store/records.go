package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// RecordRepository reads and writes compliance records. Chain appends are
// serialized per company: two concurrent invoices for the same company
// never race for the same predecessor.
type RecordRepository struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// NewRecordRepository creates a record repository
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{
		db:    db,
		locks: make(map[uint64]*sync.Mutex),
	}
}

func (r *RecordRepository) companyLock(companyID uint64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[companyID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[companyID] = l
	}
	return l
}

// Append inserts a new record at the tail of the company chain. build
// receives the current tail (nil for an empty chain) and the next
// sequence number, and returns the record to insert; Append fills in
// CompanyID and ChainSequence before writing.
func (r *RecordRepository) Append(ctx context.Context, companyID uint64,
	build func(prev *model.ComplianceRecord, sequence uint64) (*model.ComplianceRecord, error)) (*model.ComplianceRecord, error) {

	lock := r.companyLock(companyID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := r.Latest(ctx, companyID)
	if err != nil {
		return nil, err
	}

	var sequence uint64 = 1
	if prev != nil {
		sequence = prev.ChainSequence + 1
	}

	rec, err := build(prev, sequence)
	if err != nil {
		return nil, err
	}
	rec.CompanyID = companyID
	rec.ChainSequence = sequence

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// Latest returns the chain tail for a company, or nil for an empty chain
func (r *RecordRepository) Latest(ctx context.Context, companyID uint64) (*model.ComplianceRecord, error) {
	var rec model.ComplianceRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("chain_sequence DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ByUUID fetches a record by its invoice UUID
func (r *RecordRepository) ByUUID(ctx context.Context, uuid string) (*model.ComplianceRecord, error) {
	var rec model.ComplianceRecord
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Chain returns all records for a company ordered by chain sequence
func (r *RecordRepository) Chain(ctx context.Context, companyID uint64) ([]model.ComplianceRecord, error) {
	var recs []model.ComplianceRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("chain_sequence ASC").
		Find(&recs).Error
	return recs, err
}

// StatusUpdate carries the mutable submission outcome fields. Everything
// else on a record is immutable once appended.
type StatusUpdate struct {
	Status       string
	SubmissionID *string
	Response     *string
	LastError    *string
	SubmittedAt  *time.Time
	ClearedAt    *time.Time
	ReportedAt   *time.Time
}

// UpdateStatus applies a submission outcome to a record
func (r *RecordRepository) UpdateStatus(ctx context.Context, uuid string, u StatusUpdate) error {
	values := map[string]any{"status": u.Status}
	if u.SubmissionID != nil {
		values["submission_id"] = *u.SubmissionID
	}
	if u.Response != nil {
		values["response"] = *u.Response
	}
	if u.LastError != nil {
		values["last_error"] = *u.LastError
	}
	if u.SubmittedAt != nil {
		values["submitted_at"] = *u.SubmittedAt
	}
	if u.ClearedAt != nil {
		values["cleared_at"] = *u.ClearedAt
	}
	if u.ReportedAt != nil {
		values["reported_at"] = *u.ReportedAt
	}

	res := r.db.WithContext(ctx).
		Model(&model.ComplianceRecord{}).
		Where("uuid = ?", uuid).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReportableB2C returns simplified-invoice records still inside the
// reporting window: pending or retriable, created after cutoff
func (r *RecordRepository) ReportableB2C(ctx context.Context, companyID uint64, cutoff time.Time) ([]model.ComplianceRecord, error) {
	var recs []model.ComplianceRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND channel = ? AND status IN ? AND created_at > ?",
			companyID, model.ChannelB2C, retriableStatuses(), cutoff).
		Order("chain_sequence ASC").
		Find(&recs).Error
	return recs, err
}

// ExpiredB2C returns simplified-invoice records whose reporting window
// has closed without a successful report
func (r *RecordRepository) ExpiredB2C(ctx context.Context, companyID uint64, cutoff time.Time) ([]model.ComplianceRecord, error) {
	var recs []model.ComplianceRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND channel = ? AND status IN ? AND created_at <= ?",
			companyID, model.ChannelB2C, retriableStatuses(), cutoff).
		Order("chain_sequence ASC").
		Find(&recs).Error
	return recs, err
}

func retriableStatuses() []string {
	return []string{model.StatusPending, model.StatusAPIError, model.StatusSubmissionError}
}
