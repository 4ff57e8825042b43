// Package checkpoint reads and writes model weight files. Two formats are
// supported: the legacy float32 layout with a bare 7-field header, and the
// int8 grouped-quantized layout with a 256-byte versioned header. Load
// detects the format from the leading magic and returns weights ready for
// the forward pipeline.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/paveldotsmirnov/arbalest/internal/config"
	"github.com/paveldotsmirnov/arbalest/internal/logger"
	"github.com/paveldotsmirnov/arbalest/internal/tensor"
)

const (
	// QuantMagic marks a quantized checkpoint ("ak42" little-endian).
	QuantMagic = 0x616b3432
	// QuantVersion is the only quantized layout revision we read.
	QuantVersion = 2

	quantHeaderSize = 256
)

// Weights holds every parameter tensor of a loaded model. Matrices are
// either *tensor.Dense or *tensor.Quantized depending on the checkpoint
// format; norms and the token table are always float32.
type Weights struct {
	TokenEmb []float32 // vocab x dim, row-major

	AttNorm        [][]float32 // per layer, dim
	Wq, Wk, Wv, Wo []tensor.Matrix
	FFNNorm        [][]float32 // per layer, dim
	W1, W2, W3     []tensor.Matrix

	FinalNorm  []float32
	Classifier tensor.Matrix // vocab x dim; aliases TokenEmb when shared
}

// Load opens a checkpoint, detects its format and reads the full weight
// set. The returned config has been validated.
func Load(path string) (config.ModelConfig, *Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return config.ModelConfig{}, nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	head, err := r.Peek(4)
	if err != nil {
		return config.ModelConfig{}, nil, fmt.Errorf("read checkpoint header: %w", err)
	}

	if binary.LittleEndian.Uint32(head) == QuantMagic {
		return loadQuantized(r, path)
	}
	return loadFloat(r, path)
}

// Info reads only the header of a checkpoint: the parsed config plus a
// format name ("float32" or "int8").
func Info(path string) (config.ModelConfig, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return config.ModelConfig{}, "", fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	head, err := r.Peek(4)
	if err != nil {
		return config.ModelConfig{}, "", fmt.Errorf("read checkpoint header: %w", err)
	}
	if binary.LittleEndian.Uint32(head) == QuantMagic {
		cfg, err := readQuantHeader(r)
		return cfg, "int8", err
	}
	cfg, err := readFloatHeader(r)
	return cfg, "float32", err
}

func readFloatHeader(r io.Reader) (config.ModelConfig, error) {
	var h [7]int32
	for i := range h {
		v, err := readInt32(r)
		if err != nil {
			return config.ModelConfig{}, fmt.Errorf("read header field %d: %w", i, err)
		}
		h[i] = v
	}

	cfg := config.Default()
	cfg.Dim = int(h[0])
	cfg.HiddenDim = int(h[1])
	cfg.Layers = int(h[2])
	cfg.Heads = int(h[3])
	cfg.KVHeads = int(h[4])
	// A negative vocab size signals a separately stored classifier.
	cfg.SharedClassifier = h[5] > 0
	if h[5] < 0 {
		h[5] = -h[5]
	}
	cfg.VocabSize = int(h[5])
	cfg.SeqLen = int(h[6])
	if cfg.Heads > 0 {
		cfg.HeadDim = cfg.Dim / cfg.Heads
	}

	if err := cfg.Validate(); err != nil {
		return config.ModelConfig{}, fmt.Errorf("invalid checkpoint config: %w", err)
	}
	return cfg, nil
}

func loadFloat(r io.Reader, path string) (config.ModelConfig, *Weights, error) {
	cfg, err := readFloatHeader(r)
	if err != nil {
		return config.ModelConfig{}, nil, err
	}

	dim := cfg.Dim
	hidden := cfg.HiddenDim
	kvDim := cfg.KVDim()
	w := &Weights{}

	if w.TokenEmb, err = readFloats(r, cfg.VocabSize*dim); err != nil {
		return cfg, nil, fmt.Errorf("read token embeddings: %w", err)
	}
	if w.AttNorm, err = readNorms(r, cfg.Layers, dim); err != nil {
		return cfg, nil, fmt.Errorf("read attention norms: %w", err)
	}
	if w.Wq, err = readDenseLayers(r, cfg.Layers, dim, dim); err != nil {
		return cfg, nil, fmt.Errorf("read wq: %w", err)
	}
	if w.Wk, err = readDenseLayers(r, cfg.Layers, kvDim, dim); err != nil {
		return cfg, nil, fmt.Errorf("read wk: %w", err)
	}
	if w.Wv, err = readDenseLayers(r, cfg.Layers, kvDim, dim); err != nil {
		return cfg, nil, fmt.Errorf("read wv: %w", err)
	}
	if w.Wo, err = readDenseLayers(r, cfg.Layers, dim, dim); err != nil {
		return cfg, nil, fmt.Errorf("read wo: %w", err)
	}
	if w.FFNNorm, err = readNorms(r, cfg.Layers, dim); err != nil {
		return cfg, nil, fmt.Errorf("read ffn norms: %w", err)
	}
	if w.W1, err = readDenseLayers(r, cfg.Layers, hidden, dim); err != nil {
		return cfg, nil, fmt.Errorf("read w1: %w", err)
	}
	if w.W2, err = readDenseLayers(r, cfg.Layers, dim, hidden); err != nil {
		return cfg, nil, fmt.Errorf("read w2: %w", err)
	}
	if w.W3, err = readDenseLayers(r, cfg.Layers, hidden, dim); err != nil {
		return cfg, nil, fmt.Errorf("read w3: %w", err)
	}
	if w.FinalNorm, err = readFloats(r, dim); err != nil {
		return cfg, nil, fmt.Errorf("read final norm: %w", err)
	}

	// Skip the precomputed rotary table stored by the legacy exporter; the
	// engine rebuilds it from seq_len and head_dim.
	skip := int64(4 * cfg.SeqLen * cfg.HeadDim)
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return cfg, nil, fmt.Errorf("skip rotary table: %w", err)
	}

	if cfg.SharedClassifier {
		w.Classifier = tensor.NewDense(w.TokenEmb, cfg.VocabSize, dim)
	} else {
		cls, err := readFloats(r, cfg.VocabSize*dim)
		if err != nil {
			return cfg, nil, fmt.Errorf("read classifier: %w", err)
		}
		w.Classifier = tensor.NewDense(cls, cfg.VocabSize, dim)
	}

	logger.Log.Info("checkpoint loaded", "path", path, "format", "float32",
		"dim", cfg.Dim, "layers", cfg.Layers, "heads", cfg.Heads,
		"kv_heads", cfg.KVHeads, "vocab", cfg.VocabSize, "seq_len", cfg.SeqLen)
	return cfg, w, nil
}

func readQuantHeader(r io.Reader) (config.ModelConfig, error) {
	var buf [quantHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return config.ModelConfig{}, fmt.Errorf("read quantized header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:]); magic != QuantMagic {
		return config.ModelConfig{}, fmt.Errorf("bad magic: 0x%08x", magic)
	}
	if version := int32(binary.LittleEndian.Uint32(buf[4:])); version != QuantVersion {
		return config.ModelConfig{}, fmt.Errorf("unsupported checkpoint version: %d", version)
	}

	cfg := config.Default()
	cfg.Dim = int(int32(binary.LittleEndian.Uint32(buf[8:])))
	cfg.HiddenDim = int(int32(binary.LittleEndian.Uint32(buf[12:])))
	cfg.Layers = int(int32(binary.LittleEndian.Uint32(buf[16:])))
	cfg.Heads = int(int32(binary.LittleEndian.Uint32(buf[20:])))
	cfg.KVHeads = int(int32(binary.LittleEndian.Uint32(buf[24:])))
	cfg.VocabSize = int(int32(binary.LittleEndian.Uint32(buf[28:])))
	cfg.SeqLen = int(int32(binary.LittleEndian.Uint32(buf[32:])))
	cfg.SharedClassifier = buf[36] != 0
	cfg.GroupSize = int(int32(binary.LittleEndian.Uint32(buf[37:])))
	if cfg.Heads > 0 {
		cfg.HeadDim = cfg.Dim / cfg.Heads
	}

	if cfg.GroupSize <= 0 {
		return config.ModelConfig{}, fmt.Errorf("invalid group_size: %d", cfg.GroupSize)
	}
	if err := cfg.Validate(); err != nil {
		return config.ModelConfig{}, fmt.Errorf("invalid checkpoint config: %w", err)
	}
	return cfg, nil
}

func loadQuantized(r io.Reader, path string) (config.ModelConfig, *Weights, error) {
	cfg, err := readQuantHeader(r)
	if err != nil {
		return config.ModelConfig{}, nil, err
	}

	dim := cfg.Dim
	hidden := cfg.HiddenDim
	kvDim := cfg.KVDim()
	gs := cfg.GroupSize
	w := &Weights{}

	if w.AttNorm, err = readNorms(r, cfg.Layers, dim); err != nil {
		return cfg, nil, fmt.Errorf("read attention norms: %w", err)
	}
	if w.FFNNorm, err = readNorms(r, cfg.Layers, dim); err != nil {
		return cfg, nil, fmt.Errorf("read ffn norms: %w", err)
	}
	if w.FinalNorm, err = readFloats(r, dim); err != nil {
		return cfg, nil, fmt.Errorf("read final norm: %w", err)
	}

	qTokens, err := readQuantizedTensor(r, cfg.VocabSize, dim, gs)
	if err != nil {
		return cfg, nil, fmt.Errorf("read token embeddings: %w", err)
	}
	// Embedding lookup stays on the float path regardless of the weight
	// format.
	w.TokenEmb = qTokens.Dequantize()

	if w.Wq, err = readQuantLayers(r, cfg.Layers, dim, dim, gs); err != nil {
		return cfg, nil, fmt.Errorf("read wq: %w", err)
	}
	if w.Wk, err = readQuantLayers(r, cfg.Layers, kvDim, dim, gs); err != nil {
		return cfg, nil, fmt.Errorf("read wk: %w", err)
	}
	if w.Wv, err = readQuantLayers(r, cfg.Layers, kvDim, dim, gs); err != nil {
		return cfg, nil, fmt.Errorf("read wv: %w", err)
	}
	if w.Wo, err = readQuantLayers(r, cfg.Layers, dim, dim, gs); err != nil {
		return cfg, nil, fmt.Errorf("read wo: %w", err)
	}
	if w.W1, err = readQuantLayers(r, cfg.Layers, hidden, dim, gs); err != nil {
		return cfg, nil, fmt.Errorf("read w1: %w", err)
	}
	if w.W2, err = readQuantLayers(r, cfg.Layers, dim, hidden, gs); err != nil {
		return cfg, nil, fmt.Errorf("read w2: %w", err)
	}
	if w.W3, err = readQuantLayers(r, cfg.Layers, hidden, dim, gs); err != nil {
		return cfg, nil, fmt.Errorf("read w3: %w", err)
	}

	if cfg.SharedClassifier {
		w.Classifier = qTokens
	} else {
		cls, err := readQuantizedTensor(r, cfg.VocabSize, dim, gs)
		if err != nil {
			return cfg, nil, fmt.Errorf("read classifier: %w", err)
		}
		w.Classifier = cls
	}

	logger.Log.Info("checkpoint loaded", "path", path, "format", "int8",
		"dim", cfg.Dim, "layers", cfg.Layers, "heads", cfg.Heads,
		"kv_heads", cfg.KVHeads, "vocab", cfg.VocabSize, "seq_len", cfg.SeqLen,
		"group_size", gs)
	return cfg, w, nil
}

func readNorms(r io.Reader, layers, dim int) ([][]float32, error) {
	all, err := readFloats(r, layers*dim)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, layers)
	for l := range out {
		out[l] = all[l*dim : (l+1)*dim]
	}
	return out, nil
}

func readDenseLayers(r io.Reader, layers, rows, cols int) ([]tensor.Matrix, error) {
	out := make([]tensor.Matrix, layers)
	for l := range out {
		w, err := readFloats(r, rows*cols)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", l, err)
		}
		out[l] = tensor.NewDense(w, rows, cols)
	}
	return out, nil
}

func readQuantLayers(r io.Reader, layers, rows, cols, gs int) ([]tensor.Matrix, error) {
	out := make([]tensor.Matrix, layers)
	for l := range out {
		m, err := readQuantizedTensor(r, rows, cols, gs)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", l, err)
		}
		out[l] = m
	}
	return out, nil
}

// readQuantizedTensor reads one serialized tensor: rows*cols int8 values
// followed by rows*cols/gs float32 scales.
func readQuantizedTensor(r io.Reader, rows, cols, gs int) (*tensor.Quantized, error) {
	n := rows * cols
	qb := make([]byte, n)
	if _, err := io.ReadFull(r, qb); err != nil {
		return nil, err
	}
	q := make([]int8, n)
	for i, b := range qb {
		q[i] = int8(b)
	}
	s, err := readFloats(r, n/gs)
	if err != nil {
		return nil, err
	}
	return tensor.NewQuantized(q, s, rows, cols, gs), nil
}

func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func readFloats(r io.Reader, n int) ([]float32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
