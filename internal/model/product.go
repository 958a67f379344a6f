package model

import "time"

type Ingredient struct {
	Name string `json:"name"`
}

// Product is the label data of a packaged food product.
type Product struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	BrandName   string       `gorm:"size:128;index" json:"brandName"`
	ProductName string       `gorm:"size:256;not null;uniqueIndex" json:"productName"`
	Ingredients []Ingredient `gorm:"serializer:json;type:text" json:"ingredients"`
	Claims      []string     `gorm:"serializer:json;type:text" json:"claims"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (p *Product) IngredientNames() []string {
	names := make([]string, 0, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		names = append(names, ing.Name)
	}
	return names
}
