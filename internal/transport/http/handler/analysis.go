package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodlabel-analyzer/internal/app"
	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/model"
	"foodlabel-analyzer/internal/transport/http/response"
)

type AnalysisService interface {
	AnalyzeIngredients(ctx context.Context, input app.AnalyzeIngredientsInput) (*app.IngredientAnalysis, error)
	AnalyzeClaims(ctx context.Context, product model.Product) (string, error)
	Verdict(ctx context.Context, input app.VerdictInput) (string, error)
}

type AnalysisHandler struct {
	service AnalysisService
}

type ProductRequest struct {
	ProductInfo *model.Product `json:"product_info"`
	// ProductInfoFromDB is the older name of product_info.
	ProductInfoFromDB *model.Product `json:"product_info_from_db"`
}

func (r ProductRequest) product() (model.Product, bool) {
	switch {
	case r.ProductInfo != nil:
		return *r.ProductInfo, true
	case r.ProductInfoFromDB != nil:
		return *r.ProductInfoFromDB, true
	}
	return model.Product{}, false
}

type AnalyzeIngredientsRequest struct {
	ProductRequest
	ProcessingAssistantID string `json:"knowledge_base_handle_for_processing_level"`
	// AssistantPID is the older name of knowledge_base_handle_for_processing_level.
	AssistantPID string `json:"assistant_p_id"`
}

type VerdictRequest struct {
	BrandName          string   `json:"brand_name" binding:"required"`
	ProductName        string   `json:"product_name" binding:"required"`
	NutritionalLevel   string   `json:"nutritional_level"`
	ProcessingLevel    string   `json:"processing_level"`
	IngredientAnalysis string   `json:"all_ingredient_analysis"`
	ClaimsAnalysis     string   `json:"claims_analysis"`
	Refs               []string `json:"refs"`
}

func NewAnalysisHandler(service AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

func (h *AnalysisHandler) AnalyzeIngredients(c *gin.Context) {
	var req AnalyzeIngredientsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	product, ok := req.product()
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "product_info is required")
		return
	}
	assistantID := req.ProcessingAssistantID
	if assistantID == "" {
		assistantID = req.AssistantPID
	}

	out, err := h.service.AnalyzeIngredients(c.Request.Context(), app.AnalyzeIngredientsInput{
		Product:               product,
		ProcessingAssistantID: assistantID,
	})
	if err != nil {
		writeAnalysisError(c, err, "ingredient analysis failed")
		return
	}
	response.OK(c, out)
}

func (h *AnalysisHandler) AnalyzeClaims(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	product, ok := req.product()
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "product_info is required")
		return
	}

	out, err := h.service.AnalyzeClaims(c.Request.Context(), product)
	if err != nil {
		writeAnalysisError(c, err, "claims analysis failed")
		return
	}
	response.OK(c, gin.H{"claims_analysis": out})
}

func (h *AnalysisHandler) Verdict(c *gin.Context) {
	var req VerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "brand_name and product_name are required")
		return
	}

	out, err := h.service.Verdict(c.Request.Context(), app.VerdictInput{
		BrandName:          req.BrandName,
		ProductName:        req.ProductName,
		NutritionAnalysis:  req.NutritionalLevel,
		ProcessingLevel:    req.ProcessingLevel,
		IngredientAnalysis: req.IngredientAnalysis,
		ClaimsAnalysis:     req.ClaimsAnalysis,
		Citations:          req.Refs,
	})
	if err != nil {
		writeAnalysisError(c, err, "verdict failed")
		return
	}
	response.OK(c, gin.H{"verdict": out})
}

func writeAnalysisError(c *gin.Context, err error, fallback string) {
	switch {
	case app.IsClientError(err):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, errs.ErrFallbackUnavailable), errors.Is(err, errs.ErrKnowledgeBaseProvisioning):
		response.Error(c, http.StatusServiceUnavailable, response.CodeKnowledgeBaseError, "knowledge base unavailable")
	case errors.Is(err, errs.ErrUpstreamService), errors.Is(err, errs.ErrPollingTimeout), errors.Is(err, errs.ErrResponseFormat):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailure, fallback)
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
