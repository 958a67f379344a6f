package repository

import (
	"fmt"

	"gorm.io/gorm"

	"foodlabel-analyzer/internal/model"
)

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(rec *model.AnalysisRecord) error {
	if err := r.db.Create(rec).Error; err != nil {
		return fmt.Errorf("create analysis record failed: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) ListByProduct(productName string, limit int) ([]model.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []model.AnalysisRecord
	if err := r.db.Where("product_name = ?", productName).Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list analysis records failed: %w", err)
	}
	return list, nil
}
