package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/model"
)

const maxLabelImages = 10

type LabelReader interface {
	CompleteWithImages(ctx context.Context, cfg ai.ChatConfig, prompt string, imageURLs []string, schema ai.JSONSchema) (string, error)
}

const labelReaderPrompt = `You will be provided with a set of images corresponding to a single product. These images are found printed on the packaging of the product.
Your goal will be to extract information from these images to populate the schema provided. Ensure that you capture complete information, especially for ingredients:
- Ingredients: list of ingredients in the item. If ingredients have subingredients like sugar: added sugar, trans sugar, treat them as different ingredients.
- Claims: like a mango fruit juice says contains fruit.
- Name: the name of the product.
- Brand/Manufactured By: the parent company of this product.`

var labelReaderSchema = ai.JSONSchema{
	Name:   "label_reader",
	Strict: true,
	Schema: map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"productName", "brandName", "ingredients", "claims"},
		"properties": map[string]interface{}{
			"productName": map[string]interface{}{"type": "string"},
			"brandName":   map[string]interface{}{"type": "string"},
			"ingredients": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name"},
					"properties": map[string]interface{}{
						"name": map[string]interface{}{"type": "string"},
					},
				},
			},
			"claims": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	},
}

type extractedLabel struct {
	ProductName string `json:"productName"`
	BrandName   string `json:"brandName"`
	Ingredients []struct {
		Name string `json:"name"`
	} `json:"ingredients"`
	Claims []string `json:"claims"`
}

// ExtractProduct reads label images into a product and stores it, replacing
// the label data of a product with the same name.
func (s *ProductService) ExtractProduct(ctx context.Context, imageURLs []string) (*model.Product, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("%w: label reader is not configured", errs.ErrUpstreamService)
	}
	urls, err := validImageURLs(imageURLs)
	if err != nil {
		return nil, err
	}

	raw, err := s.reader.CompleteWithImages(ctx, s.vision, labelReaderPrompt, urls, labelReaderSchema)
	if err != nil {
		return nil, fmt.Errorf("read label failed: %w", err)
	}
	p, err := decodeLabel(raw)
	if err != nil {
		return nil, err
	}

	if err := s.products.Upsert(p); err != nil {
		return nil, err
	}
	log.Printf("product service: stored product %q with %d ingredients", p.ProductName, len(p.Ingredients))
	return p, nil
}

func validImageURLs(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "data:image/") {
			out = append(out, raw)
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q is not an image url", ErrInvalidInput, raw)
		}
		out = append(out, raw)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: image links not found", ErrInvalidInput)
	}
	if len(out) > maxLabelImages {
		return nil, fmt.Errorf("%w: at most %d images per product", ErrInvalidInput, maxLabelImages)
	}
	return out, nil
}

func decodeLabel(raw string) (*model.Product, error) {
	var label extractedLabel
	if err := json.Unmarshal([]byte(raw), &label); err != nil {
		return nil, fmt.Errorf("%w: decode label: %v", errs.ErrResponseFormat, err)
	}
	p := &model.Product{
		ProductName: strings.TrimSpace(label.ProductName),
		BrandName:   strings.TrimSpace(label.BrandName),
		Ingredients: []model.Ingredient{},
		Claims:      []string{},
	}
	if p.ProductName == "" {
		return nil, fmt.Errorf("%w: label has no product name", errs.ErrResponseFormat)
	}
	for _, ing := range label.Ingredients {
		if name := strings.TrimSpace(ing.Name); name != "" {
			p.Ingredients = append(p.Ingredients, model.Ingredient{Name: name})
		}
	}
	for _, claim := range label.Claims {
		if claim = strings.TrimSpace(claim); claim != "" {
			p.Claims = append(p.Claims, claim)
		}
	}
	return p, nil
}
