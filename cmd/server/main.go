package main

import (
	"log"
	"net/http"

	config "bizai-forecast-api/configs"
	"bizai-forecast-api/pkg/handlers"
	"bizai-forecast-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	// 設定の読み込み
	cfg := config.LoadConfig()

	// Ginルーターの初期化
	r := gin.Default()

	// サービスの初期化
	modelStore, err := services.NewModelStore(cfg.ModelDir)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ModelStore: %v", err)
	}
	forecastService := services.NewForecastService(modelStore, services.DefaultModelConfig())
	monitoringService := services.NewMonitoringService(modelStore)

	// ハンドラーの初期化
	forecastHandler := handlers.NewForecastHandler(forecastService)
	adminHandler := handlers.NewAdminHandler(cfg, modelStore)
	monitoringHandler := handlers.NewMonitoringHandler(monitoringService)

	// ミドルウェアの登録
	r.Use(monitoringService.LoggingMiddleware()) // ロギングミドルウェアをグローバルに適用
	r.Use(cors.Default())

	// 認証ミドルウェア
	authMiddleware := func(apiKey string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if apiKey == "" || apiKey == "default_secret_key" {
				c.Next()
				return
			}
			providedKey := c.GetHeader("X-API-KEY")
			if providedKey != apiKey {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Next()
		}
	}

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)

	// 予測エンジンのコアエンドポイント（互換性のためルート直下）
	r.POST("/retrain", forecastHandler.Retrain)
	r.POST("/retrain_file", forecastHandler.RetrainFromFile)
	r.POST("/predict", forecastHandler.Predict)
	r.POST("/predict_custom", forecastHandler.PredictCustom)
	r.GET("/download_model/:businessID", forecastHandler.DownloadModel)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(cfg.APIKey))
	{
		// 予測API
		forecast := v1.Group("/forecast")
		{
			forecast.POST("/retrain", forecastHandler.Retrain)
			forecast.POST("/retrain_file", forecastHandler.RetrainFromFile)
			forecast.POST("/predict", forecastHandler.Predict)
			forecast.POST("/predict_custom", forecastHandler.PredictCustom)
			forecast.GET("/download_model/:businessID", forecastHandler.DownloadModel)
		}

		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/logs", monitoringHandler.GetLogs)
		}
	}

	log.Printf("Starting BizAI Forecast API server on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
