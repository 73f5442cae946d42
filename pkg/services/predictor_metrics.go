package services

import (
	"math"

	"bizai-forecast-api/pkg/models"
)

// CalculateMetrics は実測値と予測値の組から精度指標を計算します。
// MAPE の分母には実測ゼロの行を含めません（該当行がなければ 0）。
// accuracy は R² と同値として報告します。入力が空の場合は全てゼロです。
func CalculateMetrics(yTrue, yPred []float64) models.Metrics {
	n := len(yTrue)
	if n == 0 || n != len(yPred) {
		return models.Metrics{}
	}

	var absSum, sqSum float64
	for i := 0; i < n; i++ {
		diff := yTrue[i] - yPred[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
	}
	mae := absSum / float64(n)
	mse := sqSum / float64(n)
	rmse := math.Sqrt(mse)

	var mapeSum float64
	var mapeCount int
	for i := 0; i < n; i++ {
		if yTrue[i] != 0 {
			mapeSum += math.Abs((yTrue[i] - yPred[i]) / yTrue[i])
			mapeCount++
		}
	}
	var mape float64
	if mapeCount > 0 {
		mape = mapeSum / float64(mapeCount) * 100
	}

	var meanTrue float64
	for _, v := range yTrue {
		meanTrue += v
	}
	meanTrue /= float64(n)

	var ssTot float64
	for _, v := range yTrue {
		d := v - meanTrue
		ssTot += d * d
	}

	r2 := rSquared(sqSum, ssTot)

	// 説明分散: 1 − Var(residual)/Var(y)
	var residMean float64
	for i := 0; i < n; i++ {
		residMean += yTrue[i] - yPred[i]
	}
	residMean /= float64(n)
	var residVar float64
	for i := 0; i < n; i++ {
		d := (yTrue[i] - yPred[i]) - residMean
		residVar += d * d
	}
	explained := rSquared(residVar, ssTot)

	return models.Metrics{
		MAE:               mae,
		MSE:               mse,
		RMSE:              rmse,
		MAPE:              mape,
		R2Score:           r2,
		ExplainedVariance: explained,
		Accuracy:          r2,
	}
}

// rSquared は 1 − ssRes/ssTot を返します。実測が定数列（ssTot=0）の場合は
// 残差ゼロなら 1、そうでなければ 0 とします。
func rSquared(ssRes, ssTot float64) float64 {
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
