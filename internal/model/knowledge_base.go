package model

import "time"

// KnowledgeBase tracks a single-use hosted knowledge base until it is deleted.
type KnowledgeBase struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AssistantID   string    `gorm:"size:64;not null;uniqueIndex" json:"assistant_id"`
	VectorStoreID string    `gorm:"size:64" json:"vector_store_id"`
	FileIDs       []string  `gorm:"serializer:json;type:text" json:"file_ids"`
	Ingredient    string    `gorm:"size:256" json:"ingredient"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}
