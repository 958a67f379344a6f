package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"foodlabel-analyzer/internal/model"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Upsert inserts a product or replaces the label data of an existing one.
func (r *ProductRepository) Upsert(p *model.Product) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"brand_name", "ingredients", "claims", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert product failed: %w", err)
	}
	return nil
}

// Search matches brand or product names containing q.
func (r *ProductRepository) Search(q string, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + q + "%"
	var list []model.Product
	if err := r.db.Where("product_name LIKE ? OR brand_name LIKE ?", pattern, pattern).
		Order("product_name ASC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("search products failed: %w", err)
	}
	return list, nil
}

func (r *ProductRepository) GetByName(name string) (*model.Product, error) {
	var p model.Product
	if err := r.db.Where("product_name = ?", name).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product failed: %w", err)
	}
	return &p, nil
}
