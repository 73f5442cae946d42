package services

import (
	"fmt"
	"math"
	"math/rand"
)

// ModelConfig は PatchTST 系列モデルのアーキテクチャと学習のハイパーパラメータです。
// 保存済みモデルの復元はこの設定から決定的に行われるため、JSONタグ付きで永続化されます。
type ModelConfig struct {
	PatchLen        int     `json:"patch_len"`
	Stride          int     `json:"stride"`
	DModel          int     `json:"d_model"`
	NHeads          int     `json:"n_heads"`
	NLayers         int     `json:"n_layers"`
	DFF             int     `json:"d_ff"`
	Dropout         float64 `json:"dropout"`
	ForecastHorizon int     `json:"forecast_horizon"`
	ContextWindow   int     `json:"context_window"`
	MinSamplesForDL int     `json:"min_samples_for_dl"`
	NumTargets      int     `json:"num_targets"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	LearningRate    float64 `json:"learning_rate"`
}

// DefaultModelConfig は本番で使用する既定のハイパーパラメータを返します。
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		PatchLen:        8,
		Stride:          4,
		DModel:          128,
		NHeads:          4,
		NLayers:         2,
		DFF:             256,
		Dropout:         0.2,
		ForecastHorizon: 7,
		ContextWindow:   60,
		MinSamplesForDL: 40,
		NumTargets:      2,
		Epochs:          30,
		BatchSize:       32,
		LearningRate:    0.001,
	}
}

// PatchCount はコンテキスト長 L・パッチ長 P・ストライド S から決まるパッチ数を返します。
// (L−P) が S で割り切れるまで末尾を複製パディングする前提の決定的な値で、
// 学習時と推論時で重み形状が一致することをこの値が保証します。
func (c ModelConfig) PatchCount() int {
	padLen := (c.Stride - ((c.ContextWindow - c.PatchLen) % c.Stride)) % c.Stride
	paddedLen := c.ContextWindow + padLen
	return (paddedLen-c.PatchLen)/c.Stride + 1
}

// encoderLayer is one post-norm transformer encoder block:
// self-attention -> dropout -> residual -> LayerNorm -> ReLU FFN -> dropout ->
// residual -> LayerNorm. No positional encoding is added anywhere; the linear
// head downstream encodes patch position implicitly.
type encoderLayer struct {
	dModel, nHeads int
	wq, wk, wv, wo *linear
	ln1, ln2       *layerNorm
	ff1, ff2       *linear
	dropAttn       *dropout
	dropAct        *dropout
	dropFF         *dropout

	// forward caches for backprop
	lastBatch  int
	lastTokens int
	lastQ      *matrix
	lastK      *matrix
	lastV      *matrix
	lastProbs  []*matrix // per sample*head attention probabilities
	lastRelu   []bool
}

func newEncoderLayer(dModel, nHeads, dFF int, p float64, rng *rand.Rand) *encoderLayer {
	return &encoderLayer{
		dModel:   dModel,
		nHeads:   nHeads,
		wq:       newLinear(dModel, dModel, rng),
		wk:       newLinear(dModel, dModel, rng),
		wv:       newLinear(dModel, dModel, rng),
		wo:       newLinear(dModel, dModel, rng),
		ln1:      newLayerNorm(dModel),
		ln2:      newLayerNorm(dModel),
		ff1:      newLinear(dModel, dFF, rng),
		ff2:      newLinear(dFF, dModel, rng),
		dropAttn: &dropout{p: p},
		dropAct:  &dropout{p: p},
		dropFF:   &dropout{p: p},
	}
}

// forward runs the block over x [batch*tokens, dModel]; attention only mixes
// tokens belonging to the same sample.
func (e *encoderLayer) forward(x *matrix, batch, tokens int, training bool, rng *rand.Rand) *matrix {
	e.lastBatch = batch
	e.lastTokens = tokens

	q := e.wq.forward(x)
	k := e.wk.forward(x)
	v := e.wv.forward(x)
	e.lastQ, e.lastK, e.lastV = q, k, v

	dk := e.dModel / e.nHeads
	scale := 1.0 / math.Sqrt(float64(dk))
	attnOut := newMatrix(x.rows, e.dModel)
	e.lastProbs = make([]*matrix, batch*e.nHeads)
	for s := 0; s < batch; s++ {
		r0 := s * tokens
		r1 := r0 + tokens
		for h := 0; h < e.nHeads; h++ {
			c0 := h * dk
			c1 := c0 + dk
			qh := sliceBlock(q, r0, r1, c0, c1)
			kh := sliceBlock(k, r0, r1, c0, c1)
			vh := sliceBlock(v, r0, r1, c0, c1)

			scores := matMulTransB(qh, kh)
			for i := range scores.data {
				scores.data[i] *= scale
			}
			softmaxRows(scores)
			e.lastProbs[s*e.nHeads+h] = scores

			oh := matMul(scores, vh)
			addBlock(attnOut, oh, r0, c0)
		}
	}

	proj := e.dropAttn.forward(e.wo.forward(attnOut), training, rng)
	res1 := x.clone()
	res1.addInPlace(proj)
	h1 := e.ln1.forward(res1)

	f1 := e.ff1.forward(h1)
	e.lastRelu = make([]bool, len(f1.data))
	act := newMatrix(f1.rows, f1.cols)
	for i, vv := range f1.data {
		if vv > 0 {
			act.data[i] = vv
			e.lastRelu[i] = true
		}
	}
	f2 := e.ff2.forward(e.dropAct.forward(act, training, rng))
	f2d := e.dropFF.forward(f2, training, rng)

	res2 := h1.clone()
	res2.addInPlace(f2d)
	return e.ln2.forward(res2)
}

// backward propagates grad through the block and accumulates parameter
// gradients. grad shares the shape of the forward output.
func (e *encoderLayer) backward(grad *matrix) *matrix {
	dRes2 := e.ln2.backward(grad)

	dF2 := e.dropFF.backward(dRes2)
	dAct := e.dropAct.backward(e.ff2.backward(dF2))
	for i := range dAct.data {
		if !e.lastRelu[i] {
			dAct.data[i] = 0
		}
	}
	dH1 := e.ff1.backward(dAct)
	dH1.addInPlace(dRes2) // residual branch around the FFN

	dRes1 := e.ln1.backward(dH1)

	dProj := e.dropAttn.backward(dRes1)
	dAttnOut := e.wo.backward(dProj)

	dk := e.dModel / e.nHeads
	scale := 1.0 / math.Sqrt(float64(dk))
	dQ := newMatrix(dAttnOut.rows, e.dModel)
	dK := newMatrix(dAttnOut.rows, e.dModel)
	dV := newMatrix(dAttnOut.rows, e.dModel)
	for s := 0; s < e.lastBatch; s++ {
		r0 := s * e.lastTokens
		r1 := r0 + e.lastTokens
		for h := 0; h < e.nHeads; h++ {
			c0 := h * dk
			c1 := c0 + dk
			probs := e.lastProbs[s*e.nHeads+h]
			dOh := sliceBlock(dAttnOut, r0, r1, c0, c1)
			qh := sliceBlock(e.lastQ, r0, r1, c0, c1)
			kh := sliceBlock(e.lastK, r0, r1, c0, c1)
			vh := sliceBlock(e.lastV, r0, r1, c0, c1)

			dProbs := matMulTransB(dOh, vh)
			dVh := matMulTransA(probs, dOh)

			// softmax backward row by row: dS = P * (dP - rowSum(dP*P))
			dScores := newMatrix(probs.rows, probs.cols)
			for i := 0; i < probs.rows; i++ {
				var dot float64
				for j := 0; j < probs.cols; j++ {
					dot += dProbs.at(i, j) * probs.at(i, j)
				}
				for j := 0; j < probs.cols; j++ {
					dScores.set(i, j, probs.at(i, j)*(dProbs.at(i, j)-dot)*scale)
				}
			}

			dQh := matMul(dScores, kh)
			dKh := matMulTransA(dScores, qh)
			addBlock(dQ, dQh, r0, c0)
			addBlock(dK, dKh, r0, c0)
			addBlock(dV, dVh, r0, c0)
		}
	}

	dX := e.wq.backward(dQ)
	dX.addInPlace(e.wk.backward(dK))
	dX.addInPlace(e.wv.backward(dV))
	dX.addInPlace(dRes1) // residual branch around attention
	return dX
}

func (e *encoderLayer) step(lr float64, t int) {
	e.wq.step(lr, t)
	e.wk.step(lr, t)
	e.wv.step(lr, t)
	e.wo.step(lr, t)
	e.ln1.step(lr, t)
	e.ln2.step(lr, t)
	e.ff1.step(lr, t)
	e.ff2.step(lr, t)
}

func (e *encoderLayer) zeroGrad() {
	e.wq.zeroGrad()
	e.wk.zeroGrad()
	e.wv.zeroGrad()
	e.wo.zeroGrad()
	e.ln1.zeroGrad()
	e.ln2.zeroGrad()
	e.ff1.zeroGrad()
	e.ff2.zeroGrad()
}

// patchTSTModel maps a [L x F] context window to an [H x numTargets] forecast:
// overlapping patches -> linear embedding -> encoder stack -> flatten -> head.
type patchTSTModel struct {
	cfg         ModelConfig
	numFeatures int
	numPatches  int
	embed       *linear
	dropEmbed   *dropout
	layers      []*encoderLayer
	head        *linear
	rng         *rand.Rand
	adamT       int
}

func newPatchTSTModel(cfg ModelConfig, numFeatures int, seed int64) *patchTSTModel {
	rng := rand.New(rand.NewSource(seed))
	m := &patchTSTModel{
		cfg:         cfg,
		numFeatures: numFeatures,
		numPatches:  cfg.PatchCount(),
		embed:       newLinear(cfg.PatchLen*numFeatures, cfg.DModel, rng),
		dropEmbed:   &dropout{p: cfg.Dropout},
		head:        nil,
		rng:         rng,
	}
	for i := 0; i < cfg.NLayers; i++ {
		m.layers = append(m.layers, newEncoderLayer(cfg.DModel, cfg.NHeads, cfg.DFF, cfg.Dropout, rng))
	}
	m.head = newLinear(m.numPatches*cfg.DModel, cfg.ForecastHorizon*cfg.NumTargets, rng)
	return m
}

// buildPatches は各ウィンドウの末尾を複製パディングした上で、
// 長さ P・ストライド S の重なり合うパッチ列 [batch*numPatches, P*F] に展開します。
func (m *patchTSTModel) buildPatches(windows [][][]float64) *matrix {
	cfg := m.cfg
	padLen := (cfg.Stride - ((cfg.ContextWindow - cfg.PatchLen) % cfg.Stride)) % cfg.Stride
	out := newMatrix(len(windows)*m.numPatches, cfg.PatchLen*m.numFeatures)
	for s, win := range windows {
		padded := win
		if padLen > 0 {
			padded = make([][]float64, 0, len(win)+padLen)
			padded = append(padded, win...)
			last := win[len(win)-1]
			for i := 0; i < padLen; i++ {
				padded = append(padded, last)
			}
		}
		for p := 0; p < m.numPatches; p++ {
			row := out.data[(s*m.numPatches+p)*out.cols : (s*m.numPatches+p+1)*out.cols]
			start := p * cfg.Stride
			for t := 0; t < cfg.PatchLen; t++ {
				copy(row[t*m.numFeatures:(t+1)*m.numFeatures], padded[start+t])
			}
		}
	}
	return out
}

// forward returns [batch, horizon*numTargets], one row per sample.
func (m *patchTSTModel) forward(windows [][][]float64, training bool) *matrix {
	batch := len(windows)
	x := m.dropEmbed.forward(m.embed.forward(m.buildPatches(windows)), training, m.rng)
	for _, layer := range m.layers {
		x = layer.forward(x, batch, m.numPatches, training, m.rng)
	}
	// flatten [batch*numPatches, dModel] -> [batch, numPatches*dModel]
	z := newMatrix(batch, m.numPatches*m.cfg.DModel)
	for s := 0; s < batch; s++ {
		copy(z.data[s*z.cols:(s+1)*z.cols], x.data[s*m.numPatches*m.cfg.DModel:(s+1)*m.numPatches*m.cfg.DModel])
	}
	return m.head.forward(z)
}

// backward propagates the loss gradient [batch, horizon*numTargets] through
// the whole network, accumulating parameter gradients.
func (m *patchTSTModel) backward(grad *matrix) {
	dz := m.head.backward(grad)
	batch := grad.rows
	dx := newMatrix(batch*m.numPatches, m.cfg.DModel)
	for s := 0; s < batch; s++ {
		copy(dx.data[s*m.numPatches*m.cfg.DModel:(s+1)*m.numPatches*m.cfg.DModel], dz.data[s*dz.cols:(s+1)*dz.cols])
	}
	for i := len(m.layers) - 1; i >= 0; i-- {
		dx = m.layers[i].backward(dx)
	}
	m.embed.backward(m.dropEmbed.backward(dx))
}

func (m *patchTSTModel) stepAdam(lr float64) {
	m.adamT++
	m.embed.step(lr, m.adamT)
	for _, layer := range m.layers {
		layer.step(lr, m.adamT)
	}
	m.head.step(lr, m.adamT)
}

func (m *patchTSTModel) zeroGrads() {
	m.embed.zeroGrad()
	for _, layer := range m.layers {
		layer.zeroGrad()
	}
	m.head.zeroGrad()
}

// LayerWeights は1エンコーダ層分の重みテンソルです（gob 永続化用）。
type LayerWeights struct {
	Wq, Bq, Wk, Bk, Wv, Bv, Wo, Bo []float64
	Ln1Gamma, Ln1Beta              []float64
	Ff1W, Ff1B, Ff2W, Ff2B         []float64
	Ln2Gamma, Ln2Beta              []float64
}

// NetworkWeights はモデル全体の重みスナップショットです。
// メタデータ側の設定からアーキテクチャを再構築した後で適用されます。
type NetworkWeights struct {
	NumFeatures int
	NumPatches  int
	EmbedW      []float64
	EmbedB      []float64
	Layers      []LayerWeights
	HeadW       []float64
	HeadB       []float64
}

func (m *patchTSTModel) exportWeights() *NetworkWeights {
	w := &NetworkWeights{
		NumFeatures: m.numFeatures,
		NumPatches:  m.numPatches,
		EmbedW:      append([]float64(nil), m.embed.w.data...),
		EmbedB:      append([]float64(nil), m.embed.b...),
		HeadW:       append([]float64(nil), m.head.w.data...),
		HeadB:       append([]float64(nil), m.head.b...),
	}
	for _, l := range m.layers {
		w.Layers = append(w.Layers, LayerWeights{
			Wq: append([]float64(nil), l.wq.w.data...), Bq: append([]float64(nil), l.wq.b...),
			Wk: append([]float64(nil), l.wk.w.data...), Bk: append([]float64(nil), l.wk.b...),
			Wv: append([]float64(nil), l.wv.w.data...), Bv: append([]float64(nil), l.wv.b...),
			Wo: append([]float64(nil), l.wo.w.data...), Bo: append([]float64(nil), l.wo.b...),
			Ln1Gamma: append([]float64(nil), l.ln1.gamma...), Ln1Beta: append([]float64(nil), l.ln1.beta...),
			Ff1W: append([]float64(nil), l.ff1.w.data...), Ff1B: append([]float64(nil), l.ff1.b...),
			Ff2W: append([]float64(nil), l.ff2.w.data...), Ff2B: append([]float64(nil), l.ff2.b...),
			Ln2Gamma: append([]float64(nil), l.ln2.gamma...), Ln2Beta: append([]float64(nil), l.ln2.beta...),
		})
	}
	return w
}

// importWeights attaches a stored snapshot to a freshly constructed model.
// Shape mismatches (stale config vs. stored tensors) are reported as errors.
func (m *patchTSTModel) importWeights(w *NetworkWeights) error {
	if w.NumFeatures != m.numFeatures {
		return fmt.Errorf("特徴量数が一致しません: 保存値=%d 構成値=%d", w.NumFeatures, m.numFeatures)
	}
	if w.NumPatches != m.numPatches {
		return fmt.Errorf("パッチ数が一致しません: 保存値=%d 構成値=%d", w.NumPatches, m.numPatches)
	}
	if len(w.Layers) != len(m.layers) {
		return fmt.Errorf("エンコーダ層数が一致しません: 保存値=%d 構成値=%d", len(w.Layers), len(m.layers))
	}
	if len(w.EmbedW) != len(m.embed.w.data) || len(w.HeadW) != len(m.head.w.data) {
		return fmt.Errorf("重み形状が保存時の構成と一致しません")
	}
	copy(m.embed.w.data, w.EmbedW)
	copy(m.embed.b, w.EmbedB)
	copy(m.head.w.data, w.HeadW)
	copy(m.head.b, w.HeadB)
	for i, lw := range w.Layers {
		l := m.layers[i]
		if len(lw.Wq) != len(l.wq.w.data) || len(lw.Ff1W) != len(l.ff1.w.data) {
			return fmt.Errorf("エンコーダ層 %d の重み形状が一致しません", i)
		}
		copy(l.wq.w.data, lw.Wq)
		copy(l.wq.b, lw.Bq)
		copy(l.wk.w.data, lw.Wk)
		copy(l.wk.b, lw.Bk)
		copy(l.wv.w.data, lw.Wv)
		copy(l.wv.b, lw.Bv)
		copy(l.wo.w.data, lw.Wo)
		copy(l.wo.b, lw.Bo)
		copy(l.ln1.gamma, lw.Ln1Gamma)
		copy(l.ln1.beta, lw.Ln1Beta)
		copy(l.ff1.w.data, lw.Ff1W)
		copy(l.ff1.b, lw.Ff1B)
		copy(l.ff2.w.data, lw.Ff2W)
		copy(l.ff2.b, lw.Ff2B)
		copy(l.ln2.gamma, lw.Ln2Gamma)
		copy(l.ln2.beta, lw.Ln2Beta)
	}
	return nil
}
