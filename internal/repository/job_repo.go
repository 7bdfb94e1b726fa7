package repository

import (
	"errors"

	"github.com/mumbaionweb/algoai-console/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrJobRecordNotFound = errors.New("job record not found")

// JobRecordRepository handles the archive of observed backtest jobs
type JobRecordRepository struct {
	db *gorm.DB
}

// NewJobRecordRepository creates a new JobRecordRepository
func NewJobRecordRepository(db *gorm.DB) *JobRecordRepository {
	return &JobRecordRepository{db: db}
}

// Upsert creates or updates the record for a job id
func (r *JobRecordRepository) Upsert(record *models.JobRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "error_message", "total_trades", "position_count",
			"net_pnl", "return_pct", "win_rate", "max_drawdown_pct",
			"result_json", "completed_at", "updated_at",
		}),
	}).Create(record).Error
}

// GetByJobID retrieves the record for a job id
func (r *JobRecordRepository) GetByJobID(jobID string) (*models.JobRecord, error) {
	var record models.JobRecord
	result := r.db.Where("job_id = ?", jobID).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobRecordNotFound
		}
		return nil, result.Error
	}
	return &record, nil
}

// GetByUserIDPaginated retrieves a user's archived jobs, newest first
func (r *JobRecordRepository) GetByUserIDPaginated(userID uint, page, pageSize int) ([]models.JobRecord, int64, error) {
	var records []models.JobRecord
	var total int64

	if err := r.db.Model(&models.JobRecord{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("user_id = ?", userID).
		Order("submitted_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&records)

	return records, total, result.Error
}

// GetByStatus retrieves archived jobs in a given status
func (r *JobRecordRepository) GetByStatus(userID uint, status models.JobStatus) ([]models.JobRecord, error) {
	var records []models.JobRecord
	result := r.db.Where("user_id = ? AND status = ?", userID, status).
		Order("submitted_at DESC").
		Find(&records)
	return records, result.Error
}
