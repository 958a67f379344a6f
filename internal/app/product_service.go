package app

import (
	"fmt"
	"strings"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/model"
)

type ProductStore interface {
	Upsert(p *model.Product) error
	Search(q string, limit int) ([]model.Product, error)
	GetByName(name string) (*model.Product, error)
}

type AnalysisHistory interface {
	ListByProduct(productName string, limit int) ([]model.AnalysisRecord, error)
}

// ProductService backs label extraction, product lookup and analysis history.
type ProductService struct {
	products ProductStore
	history  AnalysisHistory
	reader   LabelReader
	vision   ai.ChatConfig
}

// NewProductService wires the stores. reader may be nil, which disables extraction.
func NewProductService(products ProductStore, history AnalysisHistory, reader LabelReader, vision ai.ChatConfig) *ProductService {
	return &ProductService{products: products, history: history, reader: reader, vision: vision}
}

func (s *ProductService) Search(q string, limit int) ([]model.Product, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: search query is empty", ErrInvalidInput)
	}
	return s.products.Search(q, limit)
}

// Get returns nil when no product has that name.
func (s *ProductService) Get(name string) (*model.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: product name is empty", ErrInvalidInput)
	}
	return s.products.GetByName(name)
}

func (s *ProductService) History(productName string, limit int) ([]model.AnalysisRecord, error) {
	productName = strings.TrimSpace(productName)
	if productName == "" {
		return nil, fmt.Errorf("%w: product name is empty", ErrInvalidInput)
	}
	return s.history.ListByProduct(productName, limit)
}
