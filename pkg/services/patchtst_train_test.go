package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRevinStatsSampleStd(t *testing.T) {
	window := [][]float64{
		{2, 10, 99},
		{4, 20, 99},
		{6, 30, 99},
	}
	mean, std := revinStats(window, 2)

	assert.InDelta(t, 4.0, mean[0], 1e-12)
	assert.InDelta(t, 20.0, mean[1], 1e-12)
	// 不偏標準偏差 + イプシロン
	assert.InDelta(t, 2.0+revinEps, std[0], 1e-9)
	assert.InDelta(t, 10.0+revinEps, std[1], 1e-9)
}

func TestRevinConstantWindowDoesNotDivideByZero(t *testing.T) {
	window := [][]float64{{5, 5}, {5, 5}, {5, 5}}
	mean, std := revinStats(window, 2)

	norm := normalizeWindow(window, mean, std)
	for _, row := range norm {
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
			assert.False(t, math.IsInf(v, 0))
			assert.InDelta(t, 0.0, v, 1e-9)
		}
	}
}

func TestNormalizeWindowTargetsOnly(t *testing.T) {
	window := [][]float64{
		{10, 100, 7, 3},
		{20, 200, 7, 3},
	}
	mean, std := revinStats(window, 2)
	norm := normalizeWindow(window, mean, std)

	// 共変量列（3列目以降）は手つかず
	assert.Equal(t, 7.0, norm[0][2])
	assert.Equal(t, 3.0, norm[1][3])
	// ターゲット列は標準化されている
	assert.NotEqual(t, window[0][0], norm[0][0])
	// 元のウィンドウは変更されない
	assert.Equal(t, 10.0, window[0][0])
}

func TestRevinRoundTrip(t *testing.T) {
	window := [][]float64{
		{12.5, 3}, {14.0, 4}, {11.0, 2}, {13.5, 5},
	}
	mean, std := revinStats(window, 2)
	norm := normalizeWindow(window, mean, std)

	for i, row := range norm {
		for j := 0; j < 2; j++ {
			restored := row[j]*std[j] + mean[j]
			assert.InDelta(t, window[i][j], restored, 1e-9, "denormalization must invert normalization")
		}
	}
}
