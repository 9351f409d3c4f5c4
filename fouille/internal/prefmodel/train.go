package prefmodel

import (
	"context"
	"math"
	"math/rand/v2"
)

// Example is one labelled training text. Label is 1 for like, 0 for dislike.
type Example struct {
	Text  string
	Label float32
}

// TrainResult reports one training run. OK false with a Detail is a
// non-fatal outcome (no data, cancelled, persistence failure).
type TrainResult struct {
	OK     bool    `json:"ok"`
	Loss   float64 `json:"loss,omitempty"`
	Steps  int     `json:"steps,omitempty"`
	Epochs int     `json:"epochs,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
	// logFloor mirrors the usual BCE clamp of log terms at -100.
	logFloor = -100
)

// adam holds first and second moments for one parameter slice.
type adam struct {
	m, v []float32
}

func newAdam(n int) *adam { return &adam{m: make([]float32, n), v: make([]float32, n)} }

// step applies one bias-corrected Adam update. t is the 1-based step count.
func (a *adam) step(param, grad []float32, lr float64, t int) {
	c1 := 1 - math.Pow(adamBeta1, float64(t))
	c2 := 1 - math.Pow(adamBeta2, float64(t))
	for i, g := range grad {
		a.m[i] = float32(adamBeta1)*a.m[i] + float32(1-adamBeta1)*g
		a.v[i] = float32(adamBeta2)*a.v[i] + float32(1-adamBeta2)*g*g
		mh := float64(a.m[i]) / c1
		vh := float64(a.v[i]) / c2
		param[i] -= float32(lr * mh / (math.Sqrt(vh) + adamEps))
	}
}

// trainer owns a private copy of the weights for the duration of one run.
type trainer struct {
	w       *weights
	lr      float64
	dropout float64
	rng     *rand.Rand

	t                  int
	oW1, oB1, oW2, oB2 *adam
	gW1, gB1, gW2, gB2 []float32
	pre, act, mask, dh []float32
	b2                 []float32
}

func newTrainer(w *weights, cfg Config, rng *rand.Rand) *trainer {
	h := w.Hidden
	return &trainer{
		w:       w,
		lr:      cfg.LR,
		dropout: cfg.Dropout,
		rng:     rng,
		oW1:     newAdam(len(w.W1)),
		oB1:     newAdam(h),
		oW2:     newAdam(h),
		oB2:     newAdam(1),
		gW1:     make([]float32, len(w.W1)),
		gB1:     make([]float32, h),
		gW2:     make([]float32, h),
		gB2:     make([]float32, 1),
		pre:     make([]float32, h),
		act:     make([]float32, h),
		mask:    make([]float32, h),
		dh:      make([]float32, h),
		b2:      make([]float32, 1),
	}
}

// run trains for epochs passes over xs in fixed order, batchSize examples per
// optimizer step, and returns the mean batch loss and the step count.
func (t *trainer) run(ctx context.Context, xs []sparse, ys []float32, epochs, batchSize int) (float64, int, error) {
	var total float64
	steps := 0
	for e := 0; e < epochs; e++ {
		for start := 0; start < len(xs); start += batchSize {
			if err := ctx.Err(); err != nil {
				return 0, steps, err
			}
			end := min(start+batchSize, len(xs))
			total += t.batch(xs[start:end], ys[start:end])
			steps++
		}
	}
	return total / float64(max(1, steps)), steps, nil
}

// batch does forward, BCE backward and one Adam step over a mini-batch.
func (t *trainer) batch(xs []sparse, ys []float32) float64 {
	clear(t.gW1)
	clear(t.gB1)
	clear(t.gW2)
	t.gB2[0] = 0

	w := t.w
	h := w.Hidden
	n := float32(len(xs))
	keepScale := float32(1)
	if t.dropout > 0 {
		keepScale = float32(1 / (1 - t.dropout))
	}

	var loss float64
	for k, x := range xs {
		w.hiddenPre(x, t.pre)
		z := float64(w.B2)
		for j, v := range t.pre {
			switch {
			case v <= 0:
				t.mask[j] = 0
			case t.dropout > 0 && t.rng.Float64() < t.dropout:
				t.mask[j] = 0
			default:
				t.mask[j] = keepScale
			}
			t.act[j] = v * t.mask[j]
			z += float64(t.act[j]) * float64(w.W2[j])
		}
		p := sigmoid(z)
		y := float64(ys[k])
		loss -= y*math.Max(math.Log(p), logFloor) + (1-y)*math.Max(math.Log(1-p), logFloor)

		dz := float32(p-y) / n
		t.gB2[0] += dz
		for j := 0; j < h; j++ {
			t.gW2[j] += dz * t.act[j]
			t.dh[j] = dz * w.W2[j] * t.mask[j]
			t.gB1[j] += t.dh[j]
		}
		for kk, i := range x.idx {
			v := x.val[kk]
			row := t.gW1[i*h : (i+1)*h]
			for j, d := range t.dh {
				row[j] += d * v
			}
		}
	}

	t.t++
	t.oW1.step(w.W1, t.gW1, t.lr, t.t)
	t.oB1.step(w.B1, t.gB1, t.lr, t.t)
	t.oW2.step(w.W2, t.gW2, t.lr, t.t)
	t.b2[0] = w.B2
	t.oB2.step(t.b2, t.gB2, t.lr, t.t)
	w.B2 = t.b2[0]
	w.Steps++
	return loss / float64(n)
}
