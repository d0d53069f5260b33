package emb

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// Config selects the ONNX model and tokenizer backing an Encoder.
type Config struct {
	OrtDLL        string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int
}

// Encoder runs a sentence-transformer style ONNX model and pools token
// states into a single L2-normalized vector per input.
type Encoder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tok       *tokenizer.Tokenizer
	inputs    []string
	outputs   []string
	maxSeqLen int
}

// Init loads the tokenizer and creates an ONNX session. Input and output
// names are read from the model so BERT variants with or without
// token_type_ids both work.
func (e *Encoder) Init(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("model path is required")
	}
	if cfg.TokenizerPath == "" {
		return errors.New("tokenizer path is required")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 512
	}

	if cfg.OrtDLL != "" {
		ort.SetSharedLibraryPath(cfg.OrtDLL)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	tok, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("inspect model: %w", err)
	}
	inputs := make([]string, 0, len(inputInfo))
	for _, in := range inputInfo {
		inputs = append(inputs, in.Name)
	}
	outputs := []string{outputInfo[0].Name}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, outputs, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	e.mu.Lock()
	e.session = session
	e.tok = tok
	e.inputs = inputs
	e.outputs = outputs
	e.maxSeqLen = cfg.MaxSeqLen
	e.mu.Unlock()
	return nil
}

// Encode returns the pooled, normalized embedding of text.
func (e *Encoder) Encode(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("encoder is not initialized")
	}

	enc, err := e.tok.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids, mask, typeIds := truncate(enc.Ids, enc.AttentionMask, enc.TypeIds, e.maxSeqLen)
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, errors.New("empty token sequence")
	}

	shape := ort.NewShape(1, int64(seqLen))
	inputTensors := make([]ort.Value, 0, len(e.inputs))
	defer func() {
		for _, t := range inputTensors {
			t.Destroy()
		}
	}()
	for _, name := range e.inputs {
		var data []int64
		switch name {
		case "input_ids":
			data = toInt64(ids)
		case "attention_mask":
			data = toInt64(mask)
		case "token_type_ids":
			data = toInt64(typeIds)
		default:
			return nil, fmt.Errorf("unsupported model input %q", name)
		}
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		inputTensors = append(inputTensors, tensor)
	}

	outputValues := make([]ort.Value, len(e.outputs))
	if err := e.session.Run(inputTensors, outputValues); err != nil {
		return nil, fmt.Errorf("run model: %w", err)
	}
	defer func() {
		for _, v := range outputValues {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	out, ok := outputValues[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputValues[0])
	}
	return pool(out.GetData(), out.GetShape(), mask)
}

// Close destroys the ONNX session. The shared runtime environment stays
// alive for other encoders in the process.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.tok = nil
}

func truncate(ids, mask, typeIds []int, maxLen int) ([]int, []int, []int) {
	if len(ids) > maxLen {
		ids = ids[:maxLen]
	}
	if len(mask) > len(ids) {
		mask = mask[:len(ids)]
	}
	for len(mask) < len(ids) {
		mask = append(mask, 1)
	}
	if len(typeIds) > len(ids) {
		typeIds = typeIds[:len(ids)]
	}
	for len(typeIds) < len(ids) {
		typeIds = append(typeIds, 0)
	}
	return ids, mask, typeIds
}

func toInt64(vals []int) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}

// pool applies attention-masked mean pooling over the token axis and
// L2-normalizes the result. A rank-2 output (already pooled by the
// model) is normalized as-is.
func pool(data []float32, shape ort.Shape, mask []int) ([]float32, error) {
	switch len(shape) {
	case 2:
		hidden := int(shape[1])
		return normalize(append([]float32(nil), data[:hidden]...)), nil
	case 3:
		seqLen := int(shape[1])
		hidden := int(shape[2])
		if seqLen*hidden > len(data) {
			return nil, fmt.Errorf("output shape %v does not match %d values", shape, len(data))
		}
		vec := make([]float32, hidden)
		var count float32
		for t := 0; t < seqLen; t++ {
			if t < len(mask) && mask[t] == 0 {
				continue
			}
			base := t * hidden
			for j := 0; j < hidden; j++ {
				vec[j] += data[base+j]
			}
			count++
		}
		if count == 0 {
			return nil, errors.New("attention mask excludes every token")
		}
		for j := range vec {
			vec[j] /= count
		}
		return normalize(vec), nil
	default:
		return nil, fmt.Errorf("unsupported output rank %d", len(shape))
	}
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
