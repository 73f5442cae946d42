package main

import (
	"fmt"
	"log"
	"math"
	"os"

	"bizai-forecast-api/pkg/models"
	"bizai-forecast-api/pkg/services"
)

// 合成データで学習から予測までを一巡させる動作確認ツール。
// サーバーを立てずにモデル層の挙動を手元で確認するために使います。
func main() {
	fmt.Println("=== 売上予測エンジン スモークテスト ===")

	dir, err := os.MkdirTemp("", "forecast_smoke")
	if err != nil {
		log.Fatalf("一時ディレクトリの作成に失敗: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := services.NewModelStore(dir)
	if err != nil {
		log.Fatalf("モデルストアの初期化に失敗: %v", err)
	}
	svc := services.NewForecastService(store, services.DefaultModelConfig())

	// 週次の山を持つ合成履歴（2商品 × 180日）
	records := syntheticHistory(180)
	fmt.Printf("学習データ: %d行\n", len(records))

	resp, err := svc.Retrain("smoke_biz", records)
	if err != nil {
		log.Fatalf("再学習に失敗: %v", err)
	}
	fmt.Printf("モデル種別: %s\n", resp.ModelType)
	fmt.Printf("分割比: %s\n", resp.TrainingInfo.SplitRatio)
	fmt.Printf("MAE: %.2f / RMSE: %.2f / R2: %.3f\n",
		resp.Metrics.MAE, resp.Metrics.RMSE, resp.Metrics.R2Score)

	forecast, err := svc.Predict(&models.PredictRequest{
		BusinessID: "smoke_biz",
		BeginDate:  "2026-07-01",
		EndDate:    "2026-07-07",
		ItemIDs:    []string{"item_A", "item_B"},
	})
	if err != nil {
		log.Fatalf("予測に失敗: %v", err)
	}

	fmt.Println("\n--- 7日間予測 ---")
	for _, day := range forecast.Forecast {
		fmt.Printf("%s:\n", day.Date)
		for _, p := range day.Predictions {
			fmt.Printf("  %s: 売上=%.2f 数量=%d 信頼度=%.1f\n",
				p.ItemID, p.SalesAmount, p.SalesQuantity, p.ConfidenceScore)
		}
	}
}

// syntheticHistory 曜日効果と緩やかな上昇トレンドを持つ履歴を生成
func syntheticHistory(days int) []models.SalesRecord {
	var records []models.SalesRecord
	for i := 0; i < days; i++ {
		date := fmt.Sprintf("2026-01-%02d", 1+i%28)
		if i >= 28 {
			month := 1 + i/28
			date = fmt.Sprintf("2026-%02d-%02d", month, 1+i%28)
		}
		weekly := 1.0 + 0.3*math.Sin(2*math.Pi*float64(i)/7)
		trend := 1.0 + float64(i)/float64(days)*0.2
		for _, item := range []string{"item_A", "item_B"} {
			base := 100.0
			if item == "item_B" {
				base = 60.0
			}
			amount := base * weekly * trend
			records = append(records, models.SalesRecord{
				Date:             date,
				ProductID:        item,
				SalesAmount:      math.Round(amount*100) / 100,
				SalesQuantity:    math.Round(amount / 10),
				WeatherCondition: "sunny",
				Temperature:      20 + 5*math.Sin(2*math.Pi*float64(i)/30),
				FuelPrice:        160,
			})
		}
	}
	return records
}
