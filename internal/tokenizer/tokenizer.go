// Package tokenizer implements the byte-pair-encoding vocabulary used by
// the checkpoint files. The binary format is a max token length followed by
// one (score, length, bytes) record per vocabulary entry.
package tokenizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/paveldotsmirnov/arbalest/internal/metrics"
)

// Special token ids shared by all checkpoints.
const (
	BOS = 1
	EOS = 2
)

// byteFallbackOffset maps a raw byte b to vocabulary id b+3.
const byteFallbackOffset = 3

// Tokenizer holds the vocabulary and merge scores.
type Tokenizer struct {
	vocab       []string
	scores      []float32
	index       map[string]int
	maxTokenLen int
}

// Load reads a vocabulary file. vocabSize comes from the model config; the
// file carries no count of its own.
func Load(path string, vocabSize int) (*Tokenizer, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("invalid vocab size: %d", vocabSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tokenizer: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	maxLen, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("read max token length: %w", err)
	}

	t := &Tokenizer{
		vocab:       make([]string, vocabSize),
		scores:      make([]float32, vocabSize),
		index:       make(map[string]int, vocabSize),
		maxTokenLen: int(maxLen),
	}
	for i := 0; i < vocabSize; i++ {
		score, err := readFloat32(r)
		if err != nil {
			return nil, fmt.Errorf("token %d: read score: %w", i, err)
		}
		n, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("token %d: read length: %w", i, err)
		}
		if n < 0 || int(n) > t.maxTokenLen {
			return nil, fmt.Errorf("token %d: bad length %d (max %d)", i, n, t.maxTokenLen)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("token %d: read bytes: %w", i, err)
		}
		t.scores[i] = score
		t.vocab[i] = string(buf)
		// First occurrence wins when the file repeats a piece.
		if _, ok := t.index[t.vocab[i]]; !ok {
			t.index[t.vocab[i]] = i
		}
	}
	return t, nil
}

// Vocab returns the vocabulary size.
func (t *Tokenizer) Vocab() int { return len(t.vocab) }

// Piece returns the raw vocabulary string for a token id.
func (t *Tokenizer) Piece(id int) string {
	if id < 0 || id >= len(t.vocab) {
		return ""
	}
	return t.vocab[id]
}

// Encode converts text to token ids: one token per codepoint (raw bytes as
// fallback), then greedy merging of the highest-scoring adjacent pair until
// no merge applies.
func (t *Tokenizer) Encode(text string, bos, eos bool) []int {
	tokens := make([]int, 0, len(text)+2)
	if bos {
		tokens = append(tokens, BOS)
	}
	// The vocabulary was trained with a leading space on every word;
	// non-empty input gets the same dummy prefix.
	if text != "" {
		if id, ok := t.index[" "]; ok {
			tokens = append(tokens, id)
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			tokens = append(tokens, int(text[i])+byteFallbackOffset)
			i++
			continue
		}
		piece := text[i : i+size]
		if id, ok := t.index[piece]; ok {
			tokens = append(tokens, id)
		} else {
			for j := 0; j < size; j++ {
				tokens = append(tokens, int(piece[j])+byteFallbackOffset)
			}
		}
		i += size
	}

	for {
		bestScore := float32(math.Inf(-1))
		bestIdx := -1
		bestID := -1
		for i := 0; i+1 < len(tokens); i++ {
			merged := t.pieceOf(tokens[i]) + t.pieceOf(tokens[i+1])
			if id, ok := t.index[merged]; ok && t.scores[id] > bestScore {
				bestScore = t.scores[id]
				bestIdx = i
				bestID = id
			}
		}
		if bestIdx < 0 {
			break
		}
		tokens[bestIdx] = bestID
		tokens = append(tokens[:bestIdx+1], tokens[bestIdx+2:]...)
	}

	if eos {
		tokens = append(tokens, EOS)
	}
	metrics.RecordTokenizerEncode(len(tokens))
	return tokens
}

// Decode maps one token back to text. The token before it is needed to
// strip the sentencepiece leading space after BOS.
func (t *Tokenizer) Decode(prev, token int) string {
	piece := t.Piece(token)
	if prev == BOS && strings.HasPrefix(piece, " ") {
		piece = piece[1:]
	}
	if b, ok := parseByteToken(piece); ok {
		return string([]byte{b})
	}
	return piece
}

func (t *Tokenizer) pieceOf(id int) string {
	if id < 0 || id >= len(t.vocab) {
		return ""
	}
	return t.vocab[id]
}

// parseByteToken recognizes the "<0xEB>" raw-byte entries in the
// vocabulary.
func parseByteToken(piece string) (byte, bool) {
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(piece[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func readFloat32(r io.Reader) (float32, error) {
	v, err := readInt32(r)
	return math.Float32frombits(uint32(v)), err
}
