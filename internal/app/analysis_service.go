package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/analysis"
	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/knowledge"
	"foodlabel-analyzer/internal/model"
	"foodlabel-analyzer/internal/rag"
)

var ErrInvalidInput = errs.ErrInputValidation

type IngredientAnalyzer interface {
	AnalyzeAll(ctx context.Context, ingredients []string) (*analysis.BatchResult, error)
}

type SharedBase interface {
	Get(ctx context.Context) (knowledge.Handle, error)
}

type Completer interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

type AnalysisPublisher interface {
	Publish(ctx context.Context, rec model.AnalysisRecord) error
}

type AnalysisServiceConfig struct {
	ProcessingAssistantID string
	Chat                  ai.ChatConfig
	PublishTimeout        time.Duration
}

type AnalysisService struct {
	analyzer  IngredientAnalyzer
	asker     analysis.Asker
	claims    SharedBase
	completer Completer
	publisher AnalysisPublisher
	cfg       AnalysisServiceConfig
}

type AnalyzeIngredientsInput struct {
	Product               model.Product
	ProcessingAssistantID string
}

type IngredientAnalysis struct {
	Citations                []string `json:"citations"`
	MergedIngredientAnalysis string   `json:"merged_ingredient_analysis"`
	ProcessingLevel          string   `json:"processing_level"`
	FailedIngredients        []string `json:"failed_ingredients,omitempty"`
}

type VerdictInput struct {
	BrandName          string
	ProductName        string
	NutritionAnalysis  string
	ProcessingLevel    string
	IngredientAnalysis string
	ClaimsAnalysis     string
	Citations          []string
}

// NewAnalysisService wires the pipeline stages. publisher may be nil.
func NewAnalysisService(analyzer IngredientAnalyzer, asker analysis.Asker, claims SharedBase, completer Completer, publisher AnalysisPublisher, cfg AnalysisServiceConfig) *AnalysisService {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &AnalysisService{
		analyzer:  analyzer,
		asker:     asker,
		claims:    claims,
		completer: completer,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *AnalysisService) AnalyzeIngredients(ctx context.Context, input AnalyzeIngredientsInput) (*IngredientAnalysis, error) {
	names := input.Product.IngredientNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: product has no ingredients", ErrInvalidInput)
	}

	out := &IngredientAnalysis{
		ProcessingLevel: s.processingLevel(ctx, names, input.ProcessingAssistantID),
	}

	batch, err := s.analyzer.AnalyzeAll(ctx, names)
	if err != nil {
		return nil, err
	}
	out.MergedIngredientAnalysis = batch.Text
	out.Citations = batch.Citations
	out.FailedIngredients = batch.Failed
	if out.Citations == nil {
		out.Citations = []string{}
	}

	s.publish(ctx, model.AnalysisRecord{
		ProductName:       input.Product.ProductName,
		BrandName:         input.Product.BrandName,
		Kind:              model.AnalysisKindIngredients,
		ProcessingLevel:   rag.ProcessingLevel(out.ProcessingLevel),
		Result:            out.MergedIngredientAnalysis,
		Citations:         out.Citations,
		FailedIngredients: out.FailedIngredients,
	})
	return out, nil
}

func processingLevelQuestion(ingredients []string) string {
	return "Categorize food product that has following ingredients: " + strings.Join(ingredients, ", ") +
		" into Group A, Group B, or Group C based on the document. The output must only be the group category name " +
		"(Group A, Group B, or Group C) alongwith the reason behind assigning that respective category to the product. " +
		"If the group category cannot be determined, output 'NOT FOUND'."
}

// processingLevel degrades to "" on any failure.
func (s *AnalysisService) processingLevel(ctx context.Context, ingredients []string, assistantID string) string {
	if assistantID == "" {
		assistantID = s.cfg.ProcessingAssistantID
	}
	if assistantID == "" {
		return ""
	}
	answer, err := s.asker.Ask(ctx, processingLevelQuestion(ingredients), knowledge.Handle{AssistantID: assistantID}, rag.ShapeCategoryText)
	if err != nil {
		log.Printf("analysis service: processing level failed: %v", err)
		return ""
	}
	return answer.Text
}

func claimsQuestion(claims, ingredients []string) string {
	return "A food product has the following claims: " + strings.Join(claims, ", ") +
		" and ingredients: " + strings.Join(ingredients, ", ") +
		`. Please evaluate the validity of each claim as well as assess if the product name is misleading.
The output must be in JSON format as follows:

{
  "<claim_name>": {
    "Verdict": "<a judgment on the claim's accuracy, ranging from 'Accurate' to varying degrees of 'Misleading'>",
    "Why?": "<a concise, bulleted summary explaining the specific ingredients or aspects contributing to the discrepancy>",
    "Detailed Analysis": "<an in-depth explanation of the claim, incorporating relevant regulatory guidelines and health perspectives to support the verdict>"
  }
}`
}

// AnalyzeClaims judges each label claim against the misleading-claims guide.
func (s *AnalysisService) AnalyzeClaims(ctx context.Context, product model.Product) (string, error) {
	if len(product.Claims) == 0 {
		return "", nil
	}
	h, err := s.claims.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("claims knowledge base unavailable: %w", err)
	}
	answer, err := s.asker.Ask(ctx, claimsQuestion(product.Claims, product.IngredientNames()), h, rag.ShapeClaimsJSON)
	if err != nil {
		return "", fmt.Errorf("claims analysis failed: %w", err)
	}

	result := answer.Render()
	s.publish(ctx, model.AnalysisRecord{
		ProductName: product.ProductName,
		BrandName:   product.BrandName,
		Kind:        model.AnalysisKindClaims,
		Result:      result,
	})
	return result, nil
}

const verdictSystemPrompt = `Tell the consumer whether the product is a healthy option, with the reasoning behind it.
If the product is obviously junk food, put its risk in everyday context. If it is not usually perceived as harmful, highlight the risk the consumer may be missing.
If the packaging promotes it as a healthier alternative, check for hidden harms using the claims analysis. If the product is good, highlight the most relevant benefit.
Only highlight the most relevant and non-obvious part of the analysis.

Respond in this structure:
1. Recommendation: 30-50 words, ending with a happy emoji for a good option or a sad emoji otherwise.
2. Risk Analysis
A. Nutrition Analysis: at most 50 words, with recommended daily allowance context and everyday equivalents.
B. Ingredient Analysis: name the good or bad ingredients with their benefit or harm, citing the research.
C. Misleading Claims: the misleading claims identified and why.`

// Verdict combines the partial analyses into one consumer recommendation.
func (s *AnalysisService) Verdict(ctx context.Context, input VerdictInput) (string, error) {
	if strings.TrimSpace(input.BrandName) == "" || strings.TrimSpace(input.ProductName) == "" {
		return "", fmt.Errorf("%w: brand and product name are required", ErrInvalidInput)
	}

	userPrompt := fmt.Sprintf(`Brand Name: %s
Product Name: %s

Nutrition Analysis for the product is as follows ->
%s

Processing Level Analysis for the product is as follows ->
%s

Ingredient Analysis for the product is as follows ->
%s

Claims Analysis for the product is as follows ->
%s
`, input.BrandName, input.ProductName, input.NutritionAnalysis, input.ProcessingLevel, input.IngredientAnalysis, input.ClaimsAnalysis)

	content, err := s.completer.Complete(ctx, s.cfg.Chat, []ai.ChatMessage{
		{Role: "system", Content: verdictSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return "", fmt.Errorf("verdict completion failed: %w", err)
	}

	verdict := fmt.Sprintf("Brand: %s\n\nProduct: %s\n\nAnalysis:\n\n%s", input.BrandName, input.ProductName, content)
	if len(input.Citations) > 0 {
		top := input.Citations[:min(2, len(input.Citations))]
		verdict += "\n\nTop Citations:\n\n" + strings.Join(top, "\n")
	}

	s.publish(ctx, model.AnalysisRecord{
		ProductName: input.ProductName,
		BrandName:   input.BrandName,
		Kind:        model.AnalysisKindVerdict,
		Result:      verdict,
		Citations:   input.Citations,
	})
	return verdict, nil
}

// publish is best effort; a failure never fails the request.
func (s *AnalysisService) publish(ctx context.Context, rec model.AnalysisRecord) {
	if s.publisher == nil {
		return
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, rec); err != nil {
		log.Printf("analysis service: publish %s analysis %s failed: %v", rec.Kind, rec.ID, err)
	}
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, errs.ErrInputValidation)
}
