package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"foodlabel-analyzer/internal/knowledge"
	"foodlabel-analyzer/internal/model"
)

// KnowledgeBaseRepository records single-use hosted knowledge bases so that
// leftovers from crashed processes can be swept.
type KnowledgeBaseRepository struct {
	db *gorm.DB
}

func NewKnowledgeBaseRepository(db *gorm.DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

func (r *KnowledgeBaseRepository) Track(ctx context.Context, ingredient string, h knowledge.Handle) error {
	rec := model.KnowledgeBase{
		AssistantID:   h.AssistantID,
		VectorStoreID: h.VectorStoreID,
		FileIDs:       h.FileIDs,
		Ingredient:    ingredient,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("track knowledge base failed: %w", err)
	}
	return nil
}

func (r *KnowledgeBaseRepository) Untrack(ctx context.Context, h knowledge.Handle) error {
	if err := r.db.WithContext(ctx).Where("assistant_id = ?", h.AssistantID).Delete(&model.KnowledgeBase{}).Error; err != nil {
		return fmt.Errorf("untrack knowledge base failed: %w", err)
	}
	return nil
}

func (r *KnowledgeBaseRepository) ListBefore(ctx context.Context, cutoff time.Time) ([]knowledge.Handle, error) {
	var list []model.KnowledgeBase
	if err := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list stale knowledge bases failed: %w", err)
	}
	handles := make([]knowledge.Handle, len(list))
	for i, rec := range list {
		handles[i] = knowledge.Handle{
			AssistantID:   rec.AssistantID,
			VectorStoreID: rec.VectorStoreID,
			FileIDs:       rec.FileIDs,
		}
	}
	return handles, nil
}
