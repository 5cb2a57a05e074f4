package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach/automation"
	"outreach/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStale means the row changed status since it was loaded
	ErrStale = errors.New("sequence status changed concurrently")
)

// executionColumns are the fields the engine owns
var executionColumns = []string{
	"status",
	"steps",
	"current_step_index",
	"next_execution_time",
	"last_execution_time",
	"execution_logs",
	"updated_at",
}

// SequenceFilter narrows List results. Zero values match everything.
type SequenceFilter struct {
	UserID     uint
	ProspectID uint
	Status     models.SequenceStatus
	Limit      int
	Offset     int
}

type SequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// FindDueActive loads every active sequence due at now, oldest first
func (r *SequenceRepository) FindDueActive(ctx context.Context, now time.Time) ([]*models.Sequence, error) {
	var sequences []*models.Sequence
	err := r.db.WithContext(ctx).
		Preload("Prospect").
		Where("status = ? AND next_execution_time IS NOT NULL AND next_execution_time <= ?",
			models.SequenceStatusActive, now).
		Order("next_execution_time ASC, id ASC").
		Find(&sequences).Error
	if err != nil {
		return nil, fmt.Errorf("find due sequences: %w", err)
	}
	return sequences, nil
}

// SaveExecution persists the engine-owned columns in one transaction.
// A pause that landed after the sequence was loaded wins over an engine
// result that would keep it active, and step templates edited meanwhile
// are kept.
func (r *SequenceRepository) SaveExecution(ctx context.Context, seq *models.Sequence) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Sequence
		err := tx.Select("id", "status", "steps").Where("id = ?", seq.ID).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return automation.ErrSequenceGone
		}
		if err != nil {
			return err
		}

		if current.Status == models.SequenceStatusPaused && seq.Status == models.SequenceStatusActive {
			seq.Status = models.SequenceStatusPaused
		}

		// Templates belong to the user; the engine never changes them
		for i := range seq.Steps {
			if i < len(current.Steps) {
				seq.Steps[i].Template = current.Steps[i].Template
			}
		}

		res := tx.Model(seq).
			Omit(clause.Associations).
			Select(executionColumns).
			Updates(seq)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return automation.ErrSequenceGone
		}
		return nil
	})
}

func (r *SequenceRepository) Create(ctx context.Context, seq *models.Sequence) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(seq).Error
}

// Get returns a sequence owned by userID, with its prospect
func (r *SequenceRepository) Get(ctx context.Context, userID, id uint) (*models.Sequence, error) {
	var seq models.Sequence
	err := r.db.WithContext(ctx).
		Preload("Prospect").
		Where("id = ? AND user_id = ?", id, userID).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

// UpdateGuarded writes columns only while the stored status still equals from
func (r *SequenceRepository) UpdateGuarded(ctx context.Context, seq *models.Sequence, from models.SequenceStatus, columns ...string) error {
	res := r.db.WithContext(ctx).
		Model(seq).
		Omit(clause.Associations).
		Where("status = ?", from).
		Select(append(columns, "updated_at")).
		Updates(seq)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// Delete soft-deletes a sequence owned by userID
func (r *SequenceRepository) Delete(ctx context.Context, userID, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Sequence{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (f SequenceFilter) scope(db *gorm.DB) *gorm.DB {
	if f.UserID != 0 {
		db = db.Where("user_id = ?", f.UserID)
	}
	if f.ProspectID != 0 {
		db = db.Where("prospect_id = ?", f.ProspectID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	return db
}

func (r *SequenceRepository) List(ctx context.Context, filter SequenceFilter) ([]models.Sequence, int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Sequence{}).
		Scopes(filter.scope).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var sequences []models.Sequence
	err = r.db.WithContext(ctx).
		Scopes(filter.scope).
		Preload("Prospect").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&sequences).Error
	if err != nil {
		return nil, 0, err
	}
	return sequences, total, nil
}

// CountByStatus groups a user's sequences by status
func (r *SequenceRepository) CountByStatus(ctx context.Context, userID uint) (map[models.SequenceStatus]int64, error) {
	var rows []struct {
		Status models.SequenceStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Sequence{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.SequenceStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// FindProspect returns a prospect owned by userID
func (r *SequenceRepository) FindProspect(ctx context.Context, userID, prospectID uint) (*models.Prospect, error) {
	var prospect models.Prospect
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", prospectID, userID).
		First(&prospect).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &prospect, nil
}
