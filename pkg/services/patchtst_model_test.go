package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testModelConfig は単体テスト用に縮小したハイパーパラメータです。
// 既定値（d_model=128 等）では学習テストが遅すぎるため、構造は同じまま
// 次元とエポック数だけ落としています。
func testModelConfig() ModelConfig {
	return ModelConfig{
		PatchLen:        4,
		Stride:          2,
		DModel:          16,
		NHeads:          2,
		NLayers:         1,
		DFF:             32,
		Dropout:         0.0,
		ForecastHorizon: 3,
		ContextWindow:   12,
		MinSamplesForDL: 40,
		NumTargets:      2,
		Epochs:          20,
		BatchSize:       8,
		LearningRate:    0.005,
	}
}

// sineWindows は正弦波2本をターゲットとする学習ペアを生成します。
func sineWindows(cfg ModelConfig, numFeatures, count int) (inputs, labels [][][]float64) {
	series := make([][]float64, count+cfg.ContextWindow+cfg.ForecastHorizon)
	for i := range series {
		row := make([]float64, numFeatures)
		row[0] = 10 + 3*math.Sin(2*math.Pi*float64(i)/7)
		row[1] = 5 + 2*math.Cos(2*math.Pi*float64(i)/7)
		for j := 2; j < numFeatures; j++ {
			row[j] = float64(j)
		}
		series[i] = row
	}
	return BuildWindows(series, cfg.ContextWindow, cfg.ForecastHorizon, cfg.NumTargets)
}

func TestPatchCount(t *testing.T) {
	// 既定設定: (60−8) は 4 で割り切れるのでパディングなし
	assert.Equal(t, 14, DefaultModelConfig().PatchCount())
	// 縮小設定: (12−4)/2 + 1
	assert.Equal(t, 5, testModelConfig().PatchCount())

	// 割り切れない場合は末尾パディングで1パッチ増える
	cfg := testModelConfig()
	cfg.ContextWindow = 13
	assert.Equal(t, 6, cfg.PatchCount())
}

func TestPredictNextShape(t *testing.T) {
	cfg := testModelConfig()
	numFeatures := 11
	m := newPatchTSTModel(cfg, numFeatures, 1)

	windows := make([][][]float64, 3)
	for i := range windows {
		win := make([][]float64, cfg.ContextWindow)
		for j := range win {
			row := make([]float64, numFeatures)
			row[0] = float64(i + j)
			row[1] = float64(j)
			win[j] = row
		}
		windows[i] = win
	}

	out := m.predictNext(windows)
	assert.Len(t, out, 3)
	for _, vals := range out {
		assert.Len(t, vals, cfg.NumTargets)
		for _, v := range vals {
			assert.False(t, math.IsNaN(v), "prediction must be finite")
			assert.False(t, math.IsInf(v, 0), "prediction must be finite")
		}
	}
}

func TestFitReducesLoss(t *testing.T) {
	cfg := testModelConfig()
	numFeatures := 5
	inputs, labels := sineWindows(cfg, numFeatures, 40)

	m := newPatchTSTModel(cfg, numFeatures, 7)
	before := m.meanSquaredError(inputs, labels)
	m.fit(inputs, labels)
	after := m.meanSquaredError(inputs, labels)

	assert.Less(t, after, before, "training should reduce the loss on the training set")
}

func TestWeightsExportImportIdenticalOutput(t *testing.T) {
	cfg := testModelConfig()
	numFeatures := 6
	inputs, labels := sineWindows(cfg, numFeatures, 20)

	src := newPatchTSTModel(cfg, numFeatures, 3)
	src.fit(inputs, labels)

	dst := newPatchTSTModel(cfg, numFeatures, 99) // 別シードで初期化
	err := dst.importWeights(src.exportWeights())
	assert.NoError(t, err)

	srcOut := src.predictNext(inputs[:4])
	dstOut := dst.predictNext(inputs[:4])
	assert.Equal(t, srcOut, dstOut, "imported weights must reproduce predictions exactly")
}

func TestImportWeightsDimensionMismatch(t *testing.T) {
	cfg := testModelConfig()
	src := newPatchTSTModel(cfg, 6, 1)
	dst := newPatchTSTModel(cfg, 7, 1) // 特徴量数が異なる

	err := dst.importWeights(src.exportWeights())
	assert.Error(t, err, "mismatched feature width must be rejected")
}

func TestSeedDeterminism(t *testing.T) {
	cfg := testModelConfig()
	numFeatures := 5
	inputs, _ := sineWindows(cfg, numFeatures, 10)

	a := newPatchTSTModel(cfg, numFeatures, 42)
	b := newPatchTSTModel(cfg, numFeatures, 42)
	assert.Equal(t, a.predictNext(inputs[:2]), b.predictNext(inputs[:2]),
		"same seed must give identical initialization")
}
