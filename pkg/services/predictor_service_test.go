package services

import (
	"math"
	"testing"
	"time"

	"bizai-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
)

// syntheticRecords は曜日効果を持つ履歴を items × days 行生成します。
func syntheticRecords(items []string, days int) []models.SalesRecord {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []models.SalesRecord
	for i := 0; i < days; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		for k, item := range items {
			amount := 100.0*float64(k+1) + 20*math.Sin(2*math.Pi*float64(i)/7)
			records = append(records, models.SalesRecord{
				Date:             date,
				ProductID:        item,
				SalesAmount:      math.Round(amount*100) / 100,
				SalesQuantity:    math.Round(amount / 10),
				WeatherCondition: "sunny",
				Temperature:      20,
				FuelPrice:        160,
			})
		}
	}
	return records
}

func futureDays(start string, n int) []models.FutureEntry {
	t, _ := time.Parse("2006-01-02", start)
	entries := make([]models.FutureEntry, n)
	for i := range entries {
		entries[i] = models.FutureEntry{Date: t.AddDate(0, 0, i).Format("2006-01-02")}
	}
	return entries
}

func TestTrainSmallDataFallsBackToNaive(t *testing.T) {
	p := NewSalesPredictor("biz_small", testModelConfig())
	records := syntheticRecords([]string{"item_A"}, 10)

	err := p.Train(records)
	assert.NoError(t, err)
	assert.Equal(t, ModelTypeNaive, p.ModelType)
	assert.Nil(t, p.net)
	assert.Contains(t, p.NaiveStats, "item_A")
}

func TestNaivePredictionConstantWithFixedConfidence(t *testing.T) {
	p := NewSalesPredictor("biz_naive", testModelConfig())
	records := syntheticRecords([]string{"item_A"}, 10)
	assert.NoError(t, p.Train(records))

	forecast, err := p.PredictStepByStep(futureDays("2026-02-01", 3), []string{"item_A"})
	assert.NoError(t, err)
	preds := forecast["item_A"]
	assert.Len(t, preds, 3)
	for _, pr := range preds {
		assert.Equal(t, preds[0].SalesAmount, pr.SalesAmount, "naive forecast is constant")
		assert.Equal(t, naiveConfidence, pr.ConfidenceScore)
		assert.GreaterOrEqual(t, pr.SalesAmount, 0.0)
		assert.GreaterOrEqual(t, pr.SalesQuantity, 0)
	}
}

func TestNaiveTrailingAverageUsesLastSevenObservations(t *testing.T) {
	p := NewSalesPredictor("biz_avg", testModelConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []models.SalesRecord
	// 最初の3日は大きな値、直近7日は一定値 → 平均は直近のみ反映
	for i := 0; i < 10; i++ {
		amount := 10.0
		if i < 3 {
			amount = 1000.0
		}
		records = append(records, models.SalesRecord{
			Date:          base.AddDate(0, 0, i).Format("2006-01-02"),
			ProductID:     "item_A",
			SalesAmount:   amount,
			SalesQuantity: 1,
		})
	}
	assert.NoError(t, p.Train(records))
	assert.InDelta(t, 10.0, p.NaiveStats["item_A"].AmountAvg, 1e-9)
}

func TestTrainSufficientDataUsesLearnedModel(t *testing.T) {
	p := NewSalesPredictor("biz_dl", testModelConfig())
	records := syntheticRecords([]string{"item_A"}, 60)

	err := p.Train(records)
	assert.NoError(t, err)
	assert.Equal(t, ModelTypePatchTST, p.ModelType)
	assert.NotNil(t, p.net)
	assert.Equal(t, []string{"item_A"}, p.ItemIDs)

	// 推論用の末尾コンテキストが保存されている
	ctx := p.LastContext["item_A"]
	assert.Len(t, ctx, testModelConfig().ContextWindow)
}

func TestLearnedPredictionShapeAndBounds(t *testing.T) {
	p := NewSalesPredictor("biz_dl2", testModelConfig())
	items := []string{"item_A", "item_B"}
	assert.NoError(t, p.Train(syntheticRecords(items, 60)))
	assert.Equal(t, ModelTypePatchTST, p.ModelType)

	forecast, err := p.PredictStepByStep(futureDays("2026-03-15", 5), items)
	assert.NoError(t, err)
	for _, item := range items {
		preds := forecast[item]
		assert.Len(t, preds, 5)
		for _, pr := range preds {
			assert.GreaterOrEqual(t, pr.SalesAmount, 0.0)
			assert.GreaterOrEqual(t, pr.SalesQuantity, 0)
			assert.GreaterOrEqual(t, pr.ConfidenceScore, 0.0)
			assert.LessOrEqual(t, pr.ConfidenceScore, 100.0)
		}
	}
}

func TestPredictUnknownItemYieldsZeroPadding(t *testing.T) {
	p := NewSalesPredictor("biz_dl3", testModelConfig())
	assert.NoError(t, p.Train(syntheticRecords([]string{"item_A"}, 60)))

	// 学習時に存在しなかった商品でもエラーにならない
	forecast, err := p.PredictStepByStep(futureDays("2026-03-15", 2), []string{"item_X"})
	assert.NoError(t, err)
	assert.Len(t, forecast["item_X"], 2)
}

func TestSortRecordsByDate(t *testing.T) {
	records := []models.SalesRecord{
		{Date: "2026-01-03", ProductID: "A"},
		{Date: "2026-01-01", ProductID: "A"},
		{Date: "2026-01-02", ProductID: "A"},
	}
	sorted, err := sortRecordsByDate(records)
	assert.NoError(t, err)
	assert.Equal(t, "2026-01-01", sorted[0].Date)
	assert.Equal(t, "2026-01-03", sorted[2].Date)
	// 入力は変更されない
	assert.Equal(t, "2026-01-03", records[0].Date)
}

func TestSortRecordsByDateRejectsInvalidDate(t *testing.T) {
	_, err := sortRecordsByDate([]models.SalesRecord{{Date: "not-a-date", ProductID: "A"}})
	assert.Error(t, err)
}

func TestUniqueItemIDsFirstAppearanceOrder(t *testing.T) {
	records := []models.SalesRecord{
		{Date: "2026-01-01", ProductID: "B"},
		{Date: "2026-01-01", ProductID: "A"},
		{Date: "2026-01-02", ProductID: "B"},
	}
	assert.Equal(t, []string{"B", "A"}, uniqueItemIDs(records))
}

func TestSeedForBusinessStable(t *testing.T) {
	assert.Equal(t, seedForBusiness("biz_001"), seedForBusiness("biz_001"))
	assert.NotEqual(t, seedForBusiness("biz_001"), seedForBusiness("biz_002"))
}
