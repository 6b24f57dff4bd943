package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/intel"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

const (
	DefaultMaxTokens     = 256
	DefaultMinConfidence = 0.80
)

const (
	statePending int32 = iota
	stateReady
	stateFailed
)

// Options configures the entity detector.
type Options struct {
	ModelDir      string
	MaxTokens     int
	MinConfidence float32
	PoolSize      int
	IntraThreads  int
	Logger        *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = DefaultMinConfidence
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Detector finds person names, locations, organizations and dates of
// birth with a token-classification model. The model is loaded on first
// use and shared by all concurrent scans.
type Detector struct {
	opts Options
	load func() (*WordPieceTokenizer, []string, Inferencer, error)

	once   sync.Once
	state  atomic.Int32
	tok    *WordPieceTokenizer
	labels []string
	model  Inferencer
	err    error
}

// New returns a detector backed by the ONNX model in opts.ModelDir.
func New(opts Options) *Detector {
	opts.applyDefaults()
	d := &Detector{opts: opts}
	d.load = func() (*WordPieceTokenizer, []string, Inferencer, error) {
		if opts.ModelDir == "" {
			return nil, nil, nil, errors.New("model_dir is empty")
		}
		tok, err := LoadTokenizerFromDir(opts.ModelDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load tokenizer: %w", err)
		}
		meta, err := loadModelMeta(opts.ModelDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load labels: %w", err)
		}
		model, err := loadONNXModel(opts.ModelDir, runtimeOptions{
			seqLen:       opts.MaxTokens,
			numLabels:    len(meta.Labels),
			poolSize:     opts.PoolSize,
			intraThreads: opts.IntraThreads,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return tok, meta.Labels, model, nil
	}
	return d
}

// NewWithModel wires an already loaded tokenizer and model.
func NewWithModel(tok *WordPieceTokenizer, labels []string, model Inferencer, opts Options) *Detector {
	opts.applyDefaults()
	return &Detector{
		opts: opts,
		load: func() (*WordPieceTokenizer, []string, Inferencer, error) {
			return tok, labels, model, nil
		},
	}
}

func (d *Detector) Name() string { return "entity" }

func (d *Detector) ensure() error {
	d.once.Do(func() {
		d.tok, d.labels, d.model, d.err = d.load()
		if d.err != nil {
			d.state.Store(stateFailed)
			d.opts.Logger.Warn("entity model unavailable", zap.String("model_dir", d.opts.ModelDir), zap.Error(d.err))
			return
		}
		d.state.Store(stateReady)
		d.opts.Logger.Info("entity model loaded",
			zap.String("model_dir", d.opts.ModelDir),
			zap.Int("labels", len(d.labels)),
			zap.Int("max_tokens", d.opts.MaxTokens),
			zap.Int("pool_size", d.opts.PoolSize),
		)
	})
	return d.err
}

func (d *Detector) Status() intel.Status {
	switch d.state.Load() {
	case stateReady:
		return intel.Status{Name: d.Name(), Enabled: true, Version: "loaded"}
	case stateFailed:
		return intel.Status{Name: d.Name(), Enabled: false, Version: "unavailable"}
	default:
		return intel.Status{Name: d.Name(), Enabled: true, Version: "lazy"}
	}
}

func (d *Detector) Detect(ctx context.Context, text string) ([]safety.Match, error) {
	if text == "" {
		return nil, nil
	}
	if err := d.ensure(); err != nil {
		return nil, fmt.Errorf("%w: entity model: %v", safety.ErrDetectionUnavailable, err)
	}

	var out []safety.Match
	for _, enc := range d.tok.Windows(text, d.opts.MaxTokens) {
		rows, err := d.model.Infer(ctx, enc.IDs, enc.Mask)
		if err != nil {
			return nil, fmt.Errorf("entity inference: %w", err)
		}
		for _, h := range decodeBIO(rows, enc.Offsets, d.labels) {
			typ, ok := TypeForLabel(h.name)
			if !ok {
				continue
			}
			conf := h.confidence()
			if conf < d.opts.MinConfidence {
				continue
			}
			out = append(out, safety.Match{
				Type:       typ,
				Value:      text[h.span.Start:h.span.End],
				Confidence: conf,
				Span:       h.span,
				Source:     safety.SourceEntity,
				Priority:   safety.PriorityEntity,
			})
		}
	}
	return out, nil
}

// Close releases the model sessions if they were loaded.
func (d *Detector) Close() error {
	if d.state.Load() != stateReady {
		return nil
	}
	return d.model.Close()
}
