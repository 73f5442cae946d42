package services

import (
	"testing"

	"bizai-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestFeatureVectorLength(t *testing.T) {
	fp := NewFeatureProcessor()
	records := []models.SalesRecord{
		{Date: "2026-01-01", ProductID: "A", SalesAmount: 100, SalesQuantity: 10, WeatherCondition: "sunny"},
		{Date: "2026-01-02", ProductID: "A", SalesAmount: 120, SalesQuantity: 12, WeatherCondition: "rainy",
			HolidaysList: []string{"元日"}, Festivals: []string{"初詣"}},
	}
	features := fp.FitTransform(records)

	assert.Len(t, features, 2)
	for _, vec := range features {
		assert.Len(t, vec, len(RequiredColumns), "feature vector length must match column order")
	}
	// 先頭2列はターゲット
	assert.Equal(t, 100.0, features[0][0])
	assert.Equal(t, 10.0, features[0][1])
}

func TestLabelEncoderSortedAndDeterministic(t *testing.T) {
	le := NewLabelEncoder([]string{"rainy", "sunny", "rainy", "cloudy"})

	// クラスはソート済み・重複なし
	assert.Equal(t, []string{"cloudy", "rainy", "sunny"}, le.Classes)
	assert.Equal(t, 0, le.Transform("cloudy"))
	assert.Equal(t, 1, le.Transform("rainy"))
	assert.Equal(t, 2, le.Transform("sunny"))

	// 入力順を変えても同じ割り当てになる
	le2 := NewLabelEncoder([]string{"sunny", "cloudy", "rainy"})
	assert.Equal(t, le.Classes, le2.Classes)
}

func TestUnseenCategoryMapsToFallback(t *testing.T) {
	le := NewLabelEncoder([]string{"sunny", "rainy"})
	assert.Equal(t, unseenCategoryCode, le.Transform("snow"), "unseen value should map to the fallback code")
}

func TestMissingWeatherBecomesUnknown(t *testing.T) {
	fp := NewFeatureProcessor()
	records := []models.SalesRecord{
		{Date: "2026-01-01", ProductID: "A", WeatherCondition: ""},
		{Date: "2026-01-02", ProductID: "A", WeatherCondition: "sunny"},
	}
	fp.Fit(records)
	assert.Contains(t, fp.Encoders["weather_condition"].Classes, "unknown")
}

func TestListCanonicalizationPreservesOrder(t *testing.T) {
	a := canonicalizeList([]string{" 元日 ", "成人の日"})
	b := canonicalizeList([]string{"成人の日", "元日"})

	assert.Equal(t, "元日|成人の日", a)
	// 順序が異なれば別カテゴリとして扱う
	assert.NotEqual(t, a, b)
	assert.Equal(t, "", canonicalizeList(nil))
}

func TestTransformRoundTripAfterRebuild(t *testing.T) {
	fp := NewFeatureProcessor()
	records := []models.SalesRecord{
		{Date: "2026-01-01", ProductID: "A", WeatherCondition: "sunny", Festivals: []string{"夏祭り"}},
		{Date: "2026-01-02", ProductID: "A", WeatherCondition: "rainy"},
	}
	original := fp.FitTransform(records)

	// 保存済みメタデータから復元した状態を模す（indexは遅延再構築）
	restored := &FeatureProcessor{Encoders: map[string]*LabelEncoder{}}
	for col, enc := range fp.Encoders {
		restored.Encoders[col] = &LabelEncoder{Classes: enc.Classes}
	}
	reloaded := restored.Transform(records)
	assert.Equal(t, original, reloaded, "restored encoders must produce identical vectors")
}
