package services

import (
	"math"
	"math/rand"
)

// matrix is a dense row-major float64 matrix. All network math below works on
// this representation; shapes are validated by construction, not at runtime.
type matrix struct {
	rows, cols int
	data       []float64
}

func newMatrix(rows, cols int) *matrix {
	return &matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

func (m *matrix) at(i, j int) float64 { return m.data[i*m.cols+j] }

func (m *matrix) set(i, j int, v float64) { m.data[i*m.cols+j] = v }

func (m *matrix) clone() *matrix {
	out := newMatrix(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// matMul computes a*b for a [n,k] and b [k,m].
func matMul(a, b *matrix) *matrix {
	out := newMatrix(a.rows, b.cols)
	for i := 0; i < a.rows; i++ {
		arow := a.data[i*a.cols : (i+1)*a.cols]
		orow := out.data[i*out.cols : (i+1)*out.cols]
		for k, av := range arow {
			if av == 0 {
				continue
			}
			brow := b.data[k*b.cols : (k+1)*b.cols]
			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}
	return out
}

// matMulTransB computes a*b^T for a [n,k] and b [m,k].
func matMulTransB(a, b *matrix) *matrix {
	out := newMatrix(a.rows, b.rows)
	for i := 0; i < a.rows; i++ {
		arow := a.data[i*a.cols : (i+1)*a.cols]
		for j := 0; j < b.rows; j++ {
			brow := b.data[j*b.cols : (j+1)*b.cols]
			var sum float64
			for k := range arow {
				sum += arow[k] * brow[k]
			}
			out.data[i*out.cols+j] = sum
		}
	}
	return out
}

// matMulTransA computes a^T*b for a [k,n] and b [k,m].
func matMulTransA(a, b *matrix) *matrix {
	out := newMatrix(a.cols, b.cols)
	for k := 0; k < a.rows; k++ {
		arow := a.data[k*a.cols : (k+1)*a.cols]
		brow := b.data[k*b.cols : (k+1)*b.cols]
		for i, av := range arow {
			if av == 0 {
				continue
			}
			orow := out.data[i*out.cols : (i+1)*out.cols]
			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}
	return out
}

func (m *matrix) addInPlace(o *matrix) {
	for i := range m.data {
		m.data[i] += o.data[i]
	}
}

// sliceBlock copies the submatrix rows [r0,r1) x cols [c0,c1).
func sliceBlock(m *matrix, r0, r1, c0, c1 int) *matrix {
	out := newMatrix(r1-r0, c1-c0)
	for i := r0; i < r1; i++ {
		copy(out.data[(i-r0)*out.cols:(i-r0+1)*out.cols], m.data[i*m.cols+c0:i*m.cols+c1])
	}
	return out
}

// addBlock accumulates src into dst at offset (r0, c0).
func addBlock(dst, src *matrix, r0, c0 int) {
	for i := 0; i < src.rows; i++ {
		drow := dst.data[(r0+i)*dst.cols+c0:]
		srow := src.data[i*src.cols : (i+1)*src.cols]
		for j, v := range srow {
			drow[j] += v
		}
	}
}

// softmaxRows applies a numerically stable softmax to each row in place.
func softmaxRows(m *matrix) {
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.cols : (i+1)*m.cols]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(v - maxV)
			row[j] = e
			sum += e
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// adamState holds first/second moment estimates for one parameter tensor.
type adamState struct {
	m, v []float64
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

func newAdamState(n int) *adamState {
	return &adamState{m: make([]float64, n), v: make([]float64, n)}
}

// step applies one bias-corrected Adam update. t is the 1-based global step.
func (a *adamState) step(params, grads []float64, lr float64, t int) {
	c1 := 1 - math.Pow(adamBeta1, float64(t))
	c2 := 1 - math.Pow(adamBeta2, float64(t))
	for i, g := range grads {
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
		mh := a.m[i] / c1
		vh := a.v[i] / c2
		params[i] -= lr * mh / (math.Sqrt(vh) + adamEps)
	}
}

// linear is a fully connected layer y = x*W + b with gradient accumulation.
type linear struct {
	in, out int
	w       *matrix // [in, out]
	b       []float64
	gw      *matrix
	gb      []float64
	optW    *adamState
	optB    *adamState
	lastX   *matrix
}

func newLinear(in, out int, rng *rand.Rand) *linear {
	l := &linear{
		in:   in,
		out:  out,
		w:    newMatrix(in, out),
		b:    make([]float64, out),
		gw:   newMatrix(in, out),
		gb:   make([]float64, out),
		optW: newAdamState(in * out),
		optB: newAdamState(out),
	}
	// Uniform(-k, k) with k = 1/sqrt(fan_in).
	k := 1.0 / math.Sqrt(float64(in))
	for i := range l.w.data {
		l.w.data[i] = (rng.Float64()*2 - 1) * k
	}
	for i := range l.b {
		l.b[i] = (rng.Float64()*2 - 1) * k
	}
	return l
}

func (l *linear) forward(x *matrix) *matrix {
	l.lastX = x
	out := matMul(x, l.w)
	for i := 0; i < out.rows; i++ {
		row := out.data[i*out.cols : (i+1)*out.cols]
		for j := range row {
			row[j] += l.b[j]
		}
	}
	return out
}

// backward accumulates weight/bias gradients and returns the input gradient.
func (l *linear) backward(grad *matrix) *matrix {
	l.gw.addInPlace(matMulTransA(l.lastX, grad))
	for i := 0; i < grad.rows; i++ {
		row := grad.data[i*grad.cols : (i+1)*grad.cols]
		for j, v := range row {
			l.gb[j] += v
		}
	}
	return matMulTransB(grad, l.w)
}

func (l *linear) step(lr float64, t int) {
	l.optW.step(l.w.data, l.gw.data, lr, t)
	l.optB.step(l.b, l.gb, lr, t)
}

func (l *linear) zeroGrad() {
	for i := range l.gw.data {
		l.gw.data[i] = 0
	}
	for i := range l.gb {
		l.gb[i] = 0
	}
}

// layerNorm normalizes each row to zero mean / unit variance and applies a
// learned affine transform.
type layerNorm struct {
	dim        int
	gamma      []float64
	beta       []float64
	ggamma     []float64
	gbeta      []float64
	optG       *adamState
	optB       *adamState
	lastXHat   *matrix
	lastInvStd []float64
}

const layerNormEps = 1e-5

func newLayerNorm(dim int) *layerNorm {
	ln := &layerNorm{
		dim:    dim,
		gamma:  make([]float64, dim),
		beta:   make([]float64, dim),
		ggamma: make([]float64, dim),
		gbeta:  make([]float64, dim),
		optG:   newAdamState(dim),
		optB:   newAdamState(dim),
	}
	for i := range ln.gamma {
		ln.gamma[i] = 1
	}
	return ln
}

func (ln *layerNorm) forward(x *matrix) *matrix {
	out := newMatrix(x.rows, x.cols)
	ln.lastXHat = newMatrix(x.rows, x.cols)
	ln.lastInvStd = make([]float64, x.rows)
	for i := 0; i < x.rows; i++ {
		row := x.data[i*x.cols : (i+1)*x.cols]
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(len(row))
		var variance float64
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(len(row))
		invStd := 1.0 / math.Sqrt(variance+layerNormEps)
		ln.lastInvStd[i] = invStd
		for j, v := range row {
			xh := (v - mean) * invStd
			ln.lastXHat.set(i, j, xh)
			out.set(i, j, xh*ln.gamma[j]+ln.beta[j])
		}
	}
	return out
}

func (ln *layerNorm) backward(grad *matrix) *matrix {
	out := newMatrix(grad.rows, grad.cols)
	n := float64(ln.dim)
	for i := 0; i < grad.rows; i++ {
		var sumDxh, sumDxhXh float64
		for j := 0; j < ln.dim; j++ {
			g := grad.at(i, j)
			xh := ln.lastXHat.at(i, j)
			ln.ggamma[j] += g * xh
			ln.gbeta[j] += g
			dxh := g * ln.gamma[j]
			sumDxh += dxh
			sumDxhXh += dxh * xh
		}
		invStd := ln.lastInvStd[i]
		for j := 0; j < ln.dim; j++ {
			dxh := grad.at(i, j) * ln.gamma[j]
			xh := ln.lastXHat.at(i, j)
			out.set(i, j, invStd*(dxh-sumDxh/n-xh*sumDxhXh/n))
		}
	}
	return out
}

func (ln *layerNorm) step(lr float64, t int) {
	ln.optG.step(ln.gamma, ln.ggamma, lr, t)
	ln.optB.step(ln.beta, ln.gbeta, lr, t)
}

func (ln *layerNorm) zeroGrad() {
	for i := range ln.ggamma {
		ln.ggamma[i] = 0
		ln.gbeta[i] = 0
	}
}

// dropout implements inverted dropout; at inference it is the identity.
type dropout struct {
	p        float64
	lastMask []float64
}

func (d *dropout) forward(x *matrix, training bool, rng *rand.Rand) *matrix {
	if !training || d.p <= 0 {
		d.lastMask = nil
		return x
	}
	out := newMatrix(x.rows, x.cols)
	d.lastMask = make([]float64, len(x.data))
	keep := 1 - d.p
	for i, v := range x.data {
		if rng.Float64() < keep {
			d.lastMask[i] = 1 / keep
			out.data[i] = v * d.lastMask[i]
		}
	}
	return out
}

func (d *dropout) backward(grad *matrix) *matrix {
	if d.lastMask == nil {
		return grad
	}
	out := newMatrix(grad.rows, grad.cols)
	for i, g := range grad.data {
		out.data[i] = g * d.lastMask[i]
	}
	return out
}
