package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/paveldotsmirnov/arbalest/internal/config"
	"github.com/paveldotsmirnov/arbalest/internal/logger"
	"github.com/paveldotsmirnov/arbalest/internal/metrics"
	"github.com/paveldotsmirnov/arbalest/internal/tensor"
)

// WriteFloat serializes float32 weights in the legacy layout. Every matrix
// in w must be a *tensor.Dense.
func WriteFloat(path string, cfg config.ModelConfig, w *Weights) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)

	vocab := int32(cfg.VocabSize)
	if !cfg.SharedClassifier {
		vocab = -vocab
	}
	header := []int32{
		int32(cfg.Dim), int32(cfg.HiddenDim), int32(cfg.Layers),
		int32(cfg.Heads), int32(cfg.KVHeads), vocab, int32(cfg.SeqLen),
	}
	for _, v := range header {
		if err := writeInt32(bw, v); err != nil {
			return err
		}
	}

	if err := writeFloats(bw, w.TokenEmb); err != nil {
		return err
	}
	if err := writeNorms(bw, w.AttNorm); err != nil {
		return err
	}
	for _, group := range []struct {
		name string
		ms   []tensor.Matrix
	}{
		{"wq", w.Wq}, {"wk", w.Wk}, {"wv", w.Wv}, {"wo", w.Wo},
	} {
		if err := writeDenseLayers(bw, group.name, group.ms); err != nil {
			return err
		}
	}
	if err := writeNorms(bw, w.FFNNorm); err != nil {
		return err
	}
	for _, group := range []struct {
		name string
		ms   []tensor.Matrix
	}{
		{"w1", w.W1}, {"w2", w.W2}, {"w3", w.W3},
	} {
		if err := writeDenseLayers(bw, group.name, group.ms); err != nil {
			return err
		}
	}
	if err := writeFloats(bw, w.FinalNorm); err != nil {
		return err
	}

	// Legacy readers skip this region; emit zeros in place of the old
	// precomputed rotary table.
	if err := writeFloats(bw, make([]float32, cfg.SeqLen*cfg.HeadDim)); err != nil {
		return err
	}

	if !cfg.SharedClassifier {
		cls, ok := w.Classifier.(*tensor.Dense)
		if !ok {
			return fmt.Errorf("classifier: float writer requires dense weights, have %T", w.Classifier)
		}
		if err := writeFloats(bw, cls.W); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteQuantized quantizes float32 weights to grouped int8 and serializes
// them in the versioned layout. Input matrices must be *tensor.Dense;
// cfg.GroupSize selects the group width.
func WriteQuantized(path string, cfg config.ModelConfig, w *Weights) error {
	if cfg.GroupSize <= 0 {
		return fmt.Errorf("invalid group_size: %d", cfg.GroupSize)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)

	var header [quantHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:], QuantMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(QuantVersion))
	binary.LittleEndian.PutUint32(header[8:], uint32(int32(cfg.Dim)))
	binary.LittleEndian.PutUint32(header[12:], uint32(int32(cfg.HiddenDim)))
	binary.LittleEndian.PutUint32(header[16:], uint32(int32(cfg.Layers)))
	binary.LittleEndian.PutUint32(header[20:], uint32(int32(cfg.Heads)))
	binary.LittleEndian.PutUint32(header[24:], uint32(int32(cfg.KVHeads)))
	binary.LittleEndian.PutUint32(header[28:], uint32(int32(cfg.VocabSize)))
	binary.LittleEndian.PutUint32(header[32:], uint32(int32(cfg.SeqLen)))
	if cfg.SharedClassifier {
		header[36] = 1
	}
	binary.LittleEndian.PutUint32(header[37:], uint32(int32(cfg.GroupSize)))
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}

	if err := writeNorms(bw, w.AttNorm); err != nil {
		return err
	}
	if err := writeNorms(bw, w.FFNNorm); err != nil {
		return err
	}
	if err := writeFloats(bw, w.FinalNorm); err != nil {
		return err
	}

	gs := cfg.GroupSize
	var worst float32
	quantAndWrite := func(name string, raw []float32, rows, cols int) error {
		q, maxErr := tensor.Quantize(raw, rows, cols, gs)
		metrics.RecordQuantError(float64(maxErr))
		if maxErr > worst {
			worst = maxErr
		}
		logger.Log.Debug("tensor quantized", "tensor", name,
			"rows", rows, "cols", cols, "max_error", maxErr)
		return writeQuantizedTensor(bw, q)
	}

	if err := quantAndWrite("token_embeddings", w.TokenEmb, cfg.VocabSize, cfg.Dim); err != nil {
		return fmt.Errorf("write token embeddings: %w", err)
	}
	for _, group := range []struct {
		name string
		ms   []tensor.Matrix
	}{
		{"wq", w.Wq}, {"wk", w.Wk}, {"wv", w.Wv}, {"wo", w.Wo},
		{"w1", w.W1}, {"w2", w.W2}, {"w3", w.W3},
	} {
		for l, m := range group.ms {
			d, ok := m.(*tensor.Dense)
			if !ok {
				return fmt.Errorf("%s layer %d: quantize requires dense weights, have %T", group.name, l, m)
			}
			if err := quantAndWrite(group.name, d.W, d.Rows(), d.Cols()); err != nil {
				return fmt.Errorf("write %s layer %d: %w", group.name, l, err)
			}
		}
	}
	if !cfg.SharedClassifier {
		cls, ok := w.Classifier.(*tensor.Dense)
		if !ok {
			return fmt.Errorf("classifier: quantize requires dense weights, have %T", w.Classifier)
		}
		if err := quantAndWrite("classifier", cls.W, cls.Rows(), cls.Cols()); err != nil {
			return fmt.Errorf("write classifier: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	logger.Log.Info("quantized checkpoint written", "path", path,
		"group_size", gs, "max_error", worst)
	return nil
}

func writeNorms(w *bufio.Writer, norms [][]float32) error {
	for _, n := range norms {
		if err := writeFloats(w, n); err != nil {
			return err
		}
	}
	return nil
}

func writeDenseLayers(w *bufio.Writer, name string, ms []tensor.Matrix) error {
	for l, m := range ms {
		d, ok := m.(*tensor.Dense)
		if !ok {
			return fmt.Errorf("%s layer %d: float writer requires dense weights, have %T", name, l, m)
		}
		if err := writeFloats(w, d.W); err != nil {
			return fmt.Errorf("write %s layer %d: %w", name, l, err)
		}
	}
	return nil
}

func writeQuantizedTensor(w *bufio.Writer, q *tensor.Quantized) error {
	buf := make([]byte, len(q.Q))
	for i, v := range q.Q {
		buf[i] = byte(v)
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return writeFloats(w, q.S)
}

func writeInt32(w *bufio.Writer, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := w.Write(b[:])
	return err
}

func writeFloats(w *bufio.Writer, vs []float32) error {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}
