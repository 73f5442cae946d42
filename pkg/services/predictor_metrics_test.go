package services

import (
	"testing"

	"bizai-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMetricsPerfectPrediction(t *testing.T) {
	y := []float64{10, 20, 30}
	m := CalculateMetrics(y, y)

	assert.Equal(t, 0.0, m.MAE)
	assert.Equal(t, 0.0, m.MSE)
	assert.Equal(t, 0.0, m.RMSE)
	assert.Equal(t, 0.0, m.MAPE)
	assert.Equal(t, 1.0, m.R2Score)
	assert.Equal(t, 1.0, m.ExplainedVariance)
	assert.Equal(t, m.R2Score, m.Accuracy)
}

func TestCalculateMetricsKnownValues(t *testing.T) {
	yTrue := []float64{100, 200}
	yPred := []float64{110, 190}
	m := CalculateMetrics(yTrue, yPred)

	assert.InDelta(t, 10.0, m.MAE, 1e-9)
	assert.InDelta(t, 100.0, m.MSE, 1e-9)
	assert.InDelta(t, 10.0, m.RMSE, 1e-9)
	// (10/100 + 10/200) / 2 * 100 = 7.5
	assert.InDelta(t, 7.5, m.MAPE, 1e-9)
}

func TestCalculateMetricsMAPEExcludesZeroActuals(t *testing.T) {
	yTrue := []float64{0, 100}
	yPred := []float64{50, 110}
	m := CalculateMetrics(yTrue, yPred)

	// ゼロ実測の行は分母に入らない: 10/100 * 100 = 10
	assert.InDelta(t, 10.0, m.MAPE, 1e-9)
}

func TestCalculateMetricsAllZeroActuals(t *testing.T) {
	m := CalculateMetrics([]float64{0, 0}, []float64{1, 2})
	assert.Equal(t, 0.0, m.MAPE, "MAPE is zero when no nonzero actuals exist")
}

func TestCalculateMetricsConstantActuals(t *testing.T) {
	// 実測が定数列: 残差ゼロなら R²=1、そうでなければ 0
	perfect := CalculateMetrics([]float64{5, 5, 5}, []float64{5, 5, 5})
	assert.Equal(t, 1.0, perfect.R2Score)

	off := CalculateMetrics([]float64{5, 5, 5}, []float64{6, 6, 6})
	assert.Equal(t, 0.0, off.R2Score)
}

func TestCalculateMetricsEmptyOrMismatched(t *testing.T) {
	assert.Equal(t, models.Metrics{}, CalculateMetrics(nil, nil))
	assert.Equal(t, models.Metrics{}, CalculateMetrics([]float64{1}, []float64{1, 2}))
}
