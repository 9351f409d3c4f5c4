package prefmodel

import (
	"math"
	"math/rand/v2"
)

// weights is one immutable parameter set of the dim -> hidden -> 1 network.
// W1 is stored row-major by input index so a sparse input touches whole
// contiguous rows.
type weights struct {
	Dim    int
	Hidden int
	W1     []float32 // Dim*Hidden
	B1     []float32 // Hidden
	W2     []float32 // Hidden
	B2     float32
	Steps  int
}

// newWeights draws U(-1/sqrt(fan_in), 1/sqrt(fan_in)) for every layer.
func newWeights(dim, hidden int, rng *rand.Rand) *weights {
	w := &weights{
		Dim:    dim,
		Hidden: hidden,
		W1:     make([]float32, dim*hidden),
		B1:     make([]float32, hidden),
		W2:     make([]float32, hidden),
	}
	b1 := 1 / math.Sqrt(float64(dim))
	fill(w.W1, b1, rng)
	fill(w.B1, b1, rng)
	b2 := 1 / math.Sqrt(float64(hidden))
	fill(w.W2, b2, rng)
	w.B2 = float32((rng.Float64()*2 - 1) * b2)
	return w
}

func fill(dst []float32, bound float64, rng *rand.Rand) {
	for i := range dst {
		dst[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

func (w *weights) clone() *weights {
	c := *w
	c.W1 = append([]float32(nil), w.W1...)
	c.B1 = append([]float32(nil), w.B1...)
	c.W2 = append([]float32(nil), w.W2...)
	return &c
}

// hiddenPre writes the pre-activation of the hidden layer into h.
func (w *weights) hiddenPre(x sparse, h []float32) {
	copy(h, w.B1)
	for k, i := range x.idx {
		v := x.val[k]
		row := w.W1[i*w.Hidden : (i+1)*w.Hidden]
		for j, wij := range row {
			h[j] += wij * v
		}
	}
}

// predict runs inference (no dropout) and returns a probability.
func (w *weights) predict(x sparse, h []float32) float64 {
	w.hiddenPre(x, h)
	z := float64(w.B2)
	for j, v := range h {
		if v > 0 {
			z += float64(v) * float64(w.W2[j])
		}
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
