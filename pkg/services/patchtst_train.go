package services

import "math"

// revinEps は分散ゼロのウィンドウでの除算を防ぐ下限値です。
const revinEps = 1e-5

// revinStats はコンテキストウィンドウのターゲット列ごとの平均と標準偏差を返します。
// 標準偏差は不偏推定（n−1）で、revinEps を加算してゼロ割りを防ぎます。
// ラベル側の統計は推論時に因果的に得られないため、常に入力ウィンドウ側で計算します。
func revinStats(window [][]float64, numTargets int) (mean, std []float64) {
	mean = make([]float64, numTargets)
	std = make([]float64, numTargets)
	n := float64(len(window))
	for _, row := range window {
		for j := 0; j < numTargets; j++ {
			mean[j] += row[j]
		}
	}
	for j := 0; j < numTargets; j++ {
		mean[j] /= n
	}
	for _, row := range window {
		for j := 0; j < numTargets; j++ {
			d := row[j] - mean[j]
			std[j] += d * d
		}
	}
	for j := 0; j < numTargets; j++ {
		if n > 1 {
			std[j] = math.Sqrt(std[j] / (n - 1))
		} else {
			std[j] = 0
		}
		std[j] += revinEps
	}
	return mean, std
}

// normalizeWindow はターゲット列のみ標準化したウィンドウのコピーを返します。
// 共変量列はそのまま保持されます。
func normalizeWindow(window [][]float64, mean, std []float64) [][]float64 {
	out := make([][]float64, len(window))
	for i, row := range window {
		r := append([]float64(nil), row...)
		for j := range mean {
			r[j] = (row[j] - mean[j]) / std[j]
		}
		out[i] = r
	}
	return out
}

// fit は RevIN 正規化したターゲットに対する MSE を最小化するミニバッチ学習を行います。
// エポックごとにシャッフルし、固定エポック数で打ち切ります。
func (m *patchTSTModel) fit(inputs [][][]float64, labels [][][]float64) {
	n := len(inputs)
	if n == 0 {
		return
	}
	numTargets := m.cfg.NumTargets
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		m.rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for start := 0; start < n; start += m.cfg.BatchSize {
			end := start + m.cfg.BatchSize
			if end > n {
				end = n
			}
			batch := idx[start:end]

			normWins := make([][][]float64, len(batch))
			target := newMatrix(len(batch), m.cfg.ForecastHorizon*numTargets)
			for bi, id := range batch {
				mean, std := revinStats(inputs[id], numTargets)
				normWins[bi] = normalizeWindow(inputs[id], mean, std)
				for h, row := range labels[id] {
					for j := 0; j < numTargets; j++ {
						target.set(bi, h*numTargets+j, (row[j]-mean[j])/std[j])
					}
				}
			}

			pred := m.forward(normWins, true)
			grad := newMatrix(pred.rows, pred.cols)
			scale := 2.0 / float64(len(pred.data))
			for i := range pred.data {
				grad.data[i] = scale * (pred.data[i] - target.data[i])
			}

			m.zeroGrads()
			m.backward(grad)
			m.stepAdam(m.cfg.LearningRate)
		}
	}
}

// meanSquaredError は正規化空間での損失を評価します（学習はしません）。
func (m *patchTSTModel) meanSquaredError(inputs [][][]float64, labels [][][]float64) float64 {
	numTargets := m.cfg.NumTargets
	normWins := make([][][]float64, len(inputs))
	target := newMatrix(len(inputs), m.cfg.ForecastHorizon*numTargets)
	for i, win := range inputs {
		mean, std := revinStats(win, numTargets)
		normWins[i] = normalizeWindow(win, mean, std)
		for h, row := range labels[i] {
			for j := 0; j < numTargets; j++ {
				target.set(i, h*numTargets+j, (row[j]-mean[j])/std[j])
			}
		}
	}
	pred := m.forward(normWins, false)
	var sum float64
	for i := range pred.data {
		d := pred.data[i] - target.data[i]
		sum += d * d
	}
	return sum / float64(len(pred.data))
}

// predictNext は各ウィンドウを正規化して1回順伝播し、予測ホライズンの先頭
// ステップのみを逆正規化して返します。戻り値は [batch][numTargets] です。
func (m *patchTSTModel) predictNext(windows [][][]float64) [][]float64 {
	numTargets := m.cfg.NumTargets
	normWins := make([][][]float64, len(windows))
	means := make([][]float64, len(windows))
	stds := make([][]float64, len(windows))
	for i, win := range windows {
		mean, std := revinStats(win, numTargets)
		means[i], stds[i] = mean, std
		normWins[i] = normalizeWindow(win, mean, std)
	}
	out := m.forward(normWins, false)
	result := make([][]float64, len(windows))
	for i := range windows {
		vals := make([]float64, numTargets)
		for j := 0; j < numTargets; j++ {
			vals[j] = out.at(i, j)*stds[i][j] + means[i][j]
		}
		result[i] = vals
	}
	return result
}
