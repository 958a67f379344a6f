package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"foodlabel-analyzer/internal/app"
	"foodlabel-analyzer/internal/model"
	"foodlabel-analyzer/internal/transport/http/response"
)

type ProductService interface {
	ExtractProduct(ctx context.Context, imageURLs []string) (*model.Product, error)
	Search(q string, limit int) ([]model.Product, error)
	Get(name string) (*model.Product, error)
	History(productName string, limit int) ([]model.AnalysisRecord, error)
}

type ProductHandler struct {
	service ProductService
}

func NewProductHandler(service ProductService) *ProductHandler {
	return &ProductHandler{service: service}
}

type extractProductRequest struct {
	ImagesList []string `json:"images_list" binding:"required"`
}

// Extract reads product label images and stores the extracted product.
func (h *ProductHandler) Extract(c *gin.Context) {
	var req extractProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "image links not found")
		return
	}
	p, err := h.service.ExtractProduct(c.Request.Context(), req.ImagesList)
	if err != nil {
		writeAnalysisError(c, err, "extract product failed")
		return
	}
	response.OK(c, p)
}

func (h *ProductHandler) Search(c *gin.Context) {
	list, err := h.service.Search(c.Query("q"), queryLimit(c))
	if err != nil {
		if app.IsClientError(err) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "search products failed")
		return
	}
	response.OK(c, list)
}

func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Param("name"))
	if err != nil {
		if app.IsClientError(err) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get product failed")
		return
	}
	if p == nil {
		response.Error(c, http.StatusNotFound, response.CodeProductNotFound, "product not found")
		return
	}
	response.OK(c, p)
}

func (h *ProductHandler) History(c *gin.Context) {
	list, err := h.service.History(c.Query("product"), queryLimit(c))
	if err != nil {
		if app.IsClientError(err) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list analyses failed")
		return
	}
	response.OK(c, list)
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
