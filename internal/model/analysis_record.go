package model

import "time"

const (
	AnalysisKindIngredients = "ingredients"
	AnalysisKindClaims      = "claims"
	AnalysisKindVerdict     = "verdict"
)

// AnalysisRecord is one completed analysis, written by the persist worker.
type AnalysisRecord struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	ProductName       string    `gorm:"size:256;not null;index" json:"product_name"`
	BrandName         string    `gorm:"size:128" json:"brand_name"`
	Kind              string    `gorm:"size:32;not null" json:"kind"`
	ProcessingLevel   string    `gorm:"size:32" json:"processing_level,omitempty"`
	Result            string    `gorm:"type:text" json:"result"`
	Citations         []string  `gorm:"serializer:json;type:text" json:"citations"`
	FailedIngredients []string  `gorm:"serializer:json;type:text" json:"failed_ingredients,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
