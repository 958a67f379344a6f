package http

import (
	"github.com/gin-gonic/gin"

	"foodlabel-analyzer/internal/bootstrap"
	"foodlabel-analyzer/internal/transport/http/handler"
	"foodlabel-analyzer/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	analysisHandler := handler.NewAnalysisHandler(app.AnalysisService)
	productHandler := handler.NewProductHandler(app.ProductService)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))

	analysisGroup := v1.Group("/analysis")
	analysisGroup.POST("/ingredients", analysisHandler.AnalyzeIngredients)
	analysisGroup.POST("/claims", analysisHandler.AnalyzeClaims)
	analysisGroup.POST("/verdict", analysisHandler.Verdict)

	v1.POST("/products/extract", productHandler.Extract)
	v1.GET("/products", productHandler.Search)
	v1.GET("/products/:name", productHandler.Get)
	v1.GET("/analyses", productHandler.History)

	return router
}
