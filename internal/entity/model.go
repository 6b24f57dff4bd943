package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// Inferencer runs the token-classification model over one encoded window
// and returns one row of label logits per input position.
type Inferencer interface {
	Infer(ctx context.Context, ids, mask []int64) ([][]float32, error)
	Close() error
}

// modelMeta is the subset of a Hugging Face config.json the detector needs.
type modelMeta struct {
	Labels []string
}

func loadModelMeta(dir string) (modelMeta, error) {
	var meta modelMeta
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return meta, fmt.Errorf("read config.json: %w", err)
	}
	var cfg struct {
		ID2Label map[string]string `json:"id2label"`
		Label2ID map[string]int    `json:"label2id"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return meta, fmt.Errorf("decode config.json: %w", err)
	}
	switch {
	case len(cfg.ID2Label) > 0:
		meta.Labels, err = labelsFromIDMap(cfg.ID2Label)
	case len(cfg.Label2ID) > 0:
		id2label := make(map[string]string, len(cfg.Label2ID))
		for lbl, id := range cfg.Label2ID {
			id2label[strconv.Itoa(id)] = lbl
		}
		meta.Labels, err = labelsFromIDMap(id2label)
	default:
		err = errors.New("config.json has no id2label")
	}
	return meta, err
}

func labelsFromIDMap(id2label map[string]string) ([]string, error) {
	ids := make([]int, 0, len(id2label))
	for k := range id2label {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, err)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if ids[0] != 0 || ids[len(ids)-1] != len(ids)-1 {
		return nil, fmt.Errorf("label indexes must be contiguous from 0, got %v", ids)
	}
	labels := make([]string, len(ids))
	for k, v := range id2label {
		id, _ := strconv.Atoi(strings.TrimSpace(k))
		labels[id] = v
	}
	return labels, nil
}

type onnxSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	for _, t := range []interface{ Destroy() error }{s.inputIDs, s.attentionMask, s.output} {
		t.Destroy()
	}
	if s.tokenTypeIDs != nil {
		s.tokenTypeIDs.Destroy()
	}
}

// onnxModel shares a fixed pool of sessions between concurrent scans. Each
// session owns its tensors, so a session is used by one goroutine at a time.
type onnxModel struct {
	sessions  chan *onnxSession
	poolSize  int
	seqLen    int
	numLabels int
}

type runtimeOptions struct {
	seqLen       int
	numLabels    int
	poolSize     int
	intraThreads int
}

func loadONNXModel(modelDir string, opts runtimeOptions) (*onnxModel, error) {
	libPath := resolveSharedLibraryPath(modelDir)
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath, err := findModelFile(modelDir)
	if err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}
	outputName := outputs[0].Name
	for _, out := range outputs {
		if strings.EqualFold(out.Name, "logits") {
			outputName = out.Name
		}
	}
	tokenType := false
	for _, in := range inputs {
		if in.Name == "token_type_ids" {
			tokenType = true
		}
	}

	if opts.poolSize <= 0 {
		opts.poolSize = 1
	}
	m := &onnxModel{
		sessions:  make(chan *onnxSession, opts.poolSize),
		poolSize:  opts.poolSize,
		seqLen:    opts.seqLen,
		numLabels: opts.numLabels,
	}
	for i := 0; i < opts.poolSize; i++ {
		ss, err := newONNXSession(modelPath, outputName, tokenType, opts)
		if err != nil {
			for len(m.sessions) > 0 {
				(<-m.sessions).destroy()
			}
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, opts.poolSize, err)
		}
		m.sessions <- ss
	}
	return m, nil
}

func newONNXSession(modelPath, outputName string, tokenType bool, opts runtimeOptions) (*onnxSession, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer so.Destroy()
	if err := so.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if opts.intraThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.intraThreads); err != nil {
			return nil, fmt.Errorf("set intra threads: %w", err)
		}
	}

	ss := &onnxSession{}
	inputShape := ort.NewShape(1, int64(opts.seqLen))
	if ss.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	if ss.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		ss.inputIDs.Destroy()
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	names := []string{"input_ids", "attention_mask"}
	values := []ort.Value{ss.inputIDs, ss.attentionMask}
	if tokenType {
		if ss.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
			ss.inputIDs.Destroy()
			ss.attentionMask.Destroy()
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
		names = append(names, "token_type_ids")
		values = append(values, ss.tokenTypeIDs)
	}
	outShape := ort.NewShape(1, int64(opts.seqLen), int64(opts.numLabels))
	if ss.output, err = ort.NewEmptyTensor[float32](outShape); err != nil {
		ss.inputIDs.Destroy()
		ss.attentionMask.Destroy()
		if ss.tokenTypeIDs != nil {
			ss.tokenTypeIDs.Destroy()
		}
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	ss.session, err = ort.NewAdvancedSession(modelPath, names, []string{outputName}, values, []ort.Value{ss.output}, so)
	if err != nil {
		ss.destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return ss, nil
}

func (m *onnxModel) Infer(ctx context.Context, ids, mask []int64) ([][]float32, error) {
	if len(ids) != m.seqLen || len(mask) != m.seqLen {
		return nil, fmt.Errorf("input length %d, model expects %d", len(ids), m.seqLen)
	}
	var ss *onnxSession
	select {
	case ss = <-m.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { m.sessions <- ss }()

	copy(ss.inputIDs.GetData(), ids)
	copy(ss.attentionMask.GetData(), mask)
	if ss.tokenTypeIDs != nil {
		clear(ss.tokenTypeIDs.GetData())
	}
	if err := ss.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	raw := ss.output.GetData()
	rows := make([][]float32, m.seqLen)
	for i := range rows {
		row := make([]float32, m.numLabels)
		copy(row, raw[i*m.numLabels:(i+1)*m.numLabels])
		rows[i] = row
	}
	return rows, nil
}

// Close destroys every pooled session. It blocks until in-flight inferences
// have returned their sessions.
func (m *onnxModel) Close() error {
	for i := 0; i < m.poolSize; i++ {
		ss := <-m.sessions
		ss.destroy()
	}
	return nil
}

func findModelFile(dir string) (string, error) {
	for _, name := range []string{"model.onnx", "model_quantized.onnx", filepath.Join("onnx", "model.onnx")} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.onnx"))
	if len(matches) > 0 {
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", fmt.Errorf("no .onnx model in %s", dir)
}

// resolveSharedLibraryPath locates the onnxruntime shared library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common names and
// locations are probed.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
