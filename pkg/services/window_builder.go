package services

// BuildWindows は商品1つ分の時系列（日付昇順の特徴ベクトル列）から
// 教師あり学習ペアを切り出します。オフセット i ごとに
// 入力 = series[i : i+contextLen]、ラベル = series[i+contextLen : i+contextLen+horizon]
// のターゲット列のみ、を生成します。
// 系列長が contextLen+horizon 未満の場合は何も返しません（エラーではなくスキップ）。
func BuildWindows(series [][]float64, contextLen, horizon, numTargets int) (inputs [][][]float64, labels [][][]float64) {
	n := len(series)
	if n < contextLen+horizon {
		return nil, nil
	}
	for i := 0; i+contextLen+horizon <= n; i++ {
		inputs = append(inputs, series[i:i+contextLen])
		label := make([][]float64, horizon)
		for h := 0; h < horizon; h++ {
			label[h] = series[i+contextLen+h][:numTargets]
		}
		labels = append(labels, label)
	}
	return inputs, labels
}
