// CLAUDE:SUMMARY Online preference classifier: hashed bag-of-words features, one-hidden-layer MLP trained with Adam/BCE, copy-on-write weights persisted atomically.
// Package prefmodel predicts how interesting a piece of text is to the user,
// as a probability in [0,1], and learns from like/dislike feedback.
//
// Scoring reads an immutable weight set through an atomic pointer. Training
// works on a private copy and swaps it in only after it has been persisted,
// so a reader sees either the old or the new weights, never a mix.
package prefmodel

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/feedback"
	"github.com/hazyhaar/fouille/fouille/internal/jsonl"
)

const (
	blobFile   = "personalizer.gob"
	configFile = "config.json"
	blobFormat = 1
)

// Neutral is the score returned when no model is available.
const Neutral = 0.5

// Config holds the network hyperparameters. A negative Dropout disables
// dropout.
type Config struct {
	Dim           int     `yaml:"dim" json:"dim"`
	Hidden        int     `yaml:"hidden" json:"hidden"`
	LR            float64 `yaml:"lr" json:"lr"`
	Dropout       float64 `yaml:"dropout" json:"dropout"`
	BatchSize     int     `yaml:"batch_size" json:"batch_size"`
	DefaultEpochs int     `yaml:"default_epochs" json:"default_epochs"`
	Seed          uint64  `yaml:"seed" json:"seed"`
}

func (c *Config) defaults() {
	if c.Dim <= 0 {
		c.Dim = 4096
	}
	if c.Hidden <= 0 {
		c.Hidden = 256
	}
	if c.LR <= 0 {
		c.LR = 1e-3
	}
	if c.Dropout == 0 || c.Dropout >= 1 {
		c.Dropout = 0.1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.DefaultEpochs <= 0 {
		c.DefaultEpochs = 2
	}
}

// blob is the on-disk weight set.
type blob struct {
	Format  int
	SavedAt time.Time
	Weights weights
}

// Model is safe for concurrent use. ScoreOne never blocks on training.
type Model struct {
	cfg    Config
	dir    string
	logger *slog.Logger

	cur     atomic.Pointer[weights]
	trained atomic.Bool

	trainMu sync.Mutex
	rng     *rand.Rand // guarded by trainMu
}

// Open loads the model persisted under dir, or initializes fresh random
// weights when none exists. A config.json in dir takes precedence over cfg
// for the network shape, since the stored weights were built with it.
// dir == "" keeps the model in memory only.
func Open(dir string, cfg Config, logger *slog.Logger) (*Model, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	m := &Model{dir: dir, logger: logger}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prefmodel: mkdir: %w", err)
		}
		stored, err := readConfig(filepath.Join(dir, configFile))
		switch {
		case err == nil:
			stored.BatchSize, stored.DefaultEpochs, stored.Seed = cfg.BatchSize, cfg.DefaultEpochs, cfg.Seed
			stored.defaults()
			cfg = stored
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Warn("prefmodel: config unreadable, using defaults", "error", err)
		}
	}
	m.cfg = cfg
	m.rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	if dir != "" {
		w, err := readBlob(filepath.Join(dir, blobFile))
		switch {
		case err == nil && w.Dim == cfg.Dim && w.Hidden == cfg.Hidden:
			m.cur.Store(w)
			m.trained.Store(true)
			logger.Info("prefmodel: loaded", "dim", w.Dim, "hidden", w.Hidden, "steps", w.Steps)
		case err == nil:
			logger.Warn("prefmodel: stored weights do not match config, reinitializing",
				"stored_dim", w.Dim, "stored_hidden", w.Hidden, "dim", cfg.Dim, "hidden", cfg.Hidden)
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Warn("prefmodel: weights unreadable, reinitializing", "error", err)
		}
		if err := m.writeConfig(); err != nil {
			return nil, err
		}
	}
	if m.cur.Load() == nil {
		m.cur.Store(newWeights(cfg.Dim, cfg.Hidden, m.rng))
	}
	return m, nil
}

// Config returns the effective hyperparameters.
func (m *Model) Config() Config { return m.cfg }

// Trained reports whether the current weights came from training (loaded or
// fitted in this process) rather than fresh initialization.
func (m *Model) Trained() bool { return m.trained.Load() }

// ScoreOne returns the interest probability of text. Inference only.
func (m *Model) ScoreOne(text string) float64 {
	if m == nil {
		return Neutral
	}
	w := m.cur.Load()
	if w == nil {
		return Neutral
	}
	return w.predict(featurize(text, w.Dim), make([]float32, w.Hidden))
}

// Predict scores several texts against one consistent weight set.
func (m *Model) Predict(texts []string) []float64 {
	out := make([]float64, len(texts))
	w := m.cur.Load()
	if w == nil {
		for i := range out {
			out[i] = Neutral
		}
		return out
	}
	h := make([]float32, w.Hidden)
	for i, t := range texts {
		out[i] = w.predict(featurize(t, w.Dim), h)
	}
	return out
}

// ExamplesFromFeedback converts feedback records to training examples,
// skipping records without usable text.
func ExamplesFromFeedback(records []feedback.Record) []Example {
	out := make([]Example, 0, len(records))
	for _, r := range records {
		text := r.TrainingText()
		if text == "" {
			continue
		}
		var y float32
		if r.Liked() {
			y = 1
		}
		out = append(out, Example{Text: text, Label: y})
	}
	return out
}

// TrainFromFeedback trains on records for epochs passes (<= 0 uses the
// configured default).
func (m *Model) TrainFromFeedback(ctx context.Context, records []feedback.Record, epochs int) TrainResult {
	return m.Train(ctx, ExamplesFromFeedback(records), epochs)
}

// Train fits a copy of the current weights on examples, persists it, then
// publishes it. With no usable examples, or on any failure, the current
// weights are left untouched.
func (m *Model) Train(ctx context.Context, examples []Example, epochs int) TrainResult {
	if epochs <= 0 {
		epochs = m.cfg.DefaultEpochs
	}
	xs := make([]sparse, 0, len(examples))
	ys := make([]float32, 0, len(examples))
	for _, ex := range examples {
		x := featurize(ex.Text, m.cfg.Dim)
		if x.empty() {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, ex.Label)
	}
	if len(xs) == 0 {
		return TrainResult{OK: false, Detail: "no data"}
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	start := time.Now()
	w := m.cur.Load().clone()
	tr := newTrainer(w, m.cfg, m.rng)
	loss, steps, err := tr.run(ctx, xs, ys, epochs, m.cfg.BatchSize)
	if err != nil {
		m.logger.Warn("prefmodel: training aborted", "error", err, "steps", steps)
		return TrainResult{OK: false, Detail: err.Error()}
	}
	if err := m.save(w); err != nil {
		m.logger.Error("prefmodel: save failed", "error", err)
		return TrainResult{OK: false, Detail: err.Error()}
	}
	m.cur.Store(w)
	m.trained.Store(true)
	m.logger.Info("prefmodel: trained",
		"examples", len(xs), "epochs", epochs, "steps", steps, "loss", loss,
		"duration_ms", time.Since(start).Milliseconds())
	return TrainResult{OK: true, Loss: loss, Steps: steps, Epochs: epochs}
}

func (m *Model) save(w *weights) error {
	if m.dir == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob{Format: blobFormat, SavedAt: time.Now().UTC(), Weights: *w}); err != nil {
		return fmt.Errorf("prefmodel: encode: %w", err)
	}
	if err := jsonl.WriteFileAtomic(filepath.Join(m.dir, blobFile), buf.Bytes()); err != nil {
		return fmt.Errorf("prefmodel: write weights: %w", err)
	}
	return nil
}

func (m *Model) writeConfig() error {
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("prefmodel: encode config: %w", err)
	}
	if err := jsonl.WriteFileAtomic(filepath.Join(m.dir, configFile), data); err != nil {
		return fmt.Errorf("prefmodel: write config: %w", err)
	}
	return nil
}

func readConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("prefmodel: decode config: %w", err)
	}
	return c, nil
}

func readBlob(path string) (*weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var b blob
	if err := gob.NewDecoder(f).Decode(&b); err != nil {
		return nil, fmt.Errorf("prefmodel: decode weights: %w", err)
	}
	if b.Format != blobFormat {
		return nil, fmt.Errorf("prefmodel: unsupported weights format %d", b.Format)
	}
	w := b.Weights
	if len(w.W1) != w.Dim*w.Hidden || len(w.B1) != w.Hidden || len(w.W2) != w.Hidden {
		return nil, fmt.Errorf("prefmodel: weights shape mismatch")
	}
	return &w, nil
}
