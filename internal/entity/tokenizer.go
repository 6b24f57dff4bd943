package entity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Encoding is one model input window. Offsets[i] is the byte span of token i
// in the scanned text, or {-1,-1} for special and padding positions.
type Encoding struct {
	IDs     []int64
	Mask    []int64
	Offsets []safety.Span
}

var noOffset = safety.Span{Start: -1, End: -1}

// WordPieceTokenizer implements the BERT uncased WordPiece scheme with byte
// offsets back into the original text.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
}

// LoadVocab builds the tokenizer from vocab.txt (one token per line).
func LoadVocab(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	return NewWordPieceTokenizer(vocab, true), nil
}

// LoadTokenizerFromDir looks for vocab.txt, then tokenizer.json, in dir and
// its tokenizer/ subdirectory.
func LoadTokenizerFromDir(dir string) (*WordPieceTokenizer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("tokenizer dir is empty")
	}
	for _, path := range []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	} {
		if _, err := os.Stat(path); err == nil {
			return LoadVocab(path)
		}
	}
	for _, path := range []string{
		filepath.Join(dir, "tokenizer.json"),
		filepath.Join(dir, "tokenizer", "tokenizer.json"),
	} {
		if _, err := os.Stat(path); err == nil {
			return loadTokenizerJSON(path)
		}
	}
	return nil, fmt.Errorf("tokenizer assets not found in %s (vocab.txt or tokenizer.json)", dir)
}

func loadTokenizerJSON(path string) (*WordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json: %w", err)
	}
	var raw struct {
		Normalizer struct {
			Lowercase *bool `json:"lowercase"`
		} `json:"normalizer"`
		Model struct {
			Type  string           `json:"type"`
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tokenizer.json: %w", err)
	}
	if t := strings.ToLower(raw.Model.Type); t != "" && t != "wordpiece" {
		return nil, fmt.Errorf("unsupported tokenizer model %q", raw.Model.Type)
	}
	if len(raw.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json missing vocab")
	}
	lower := true
	if raw.Normalizer.Lowercase != nil {
		lower = *raw.Normalizer.Lowercase
	}
	return NewWordPieceTokenizer(raw.Model.Vocab, lower), nil
}

// NewWordPieceTokenizer wraps an in-memory vocabulary.
func NewWordPieceTokenizer(vocab map[string]int64, lowerCase bool) *WordPieceTokenizer {
	return &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    lowerCase,
		continuation: "##",
		clsID:        vocab["[CLS]"],
		sepID:        vocab["[SEP]"],
		padID:        vocab["[PAD]"],
		unkID:        vocab["[UNK]"],
	}
}

type piece struct {
	id   int64
	span safety.Span
}

// Windows tokenizes text and splits it into consecutive encodings of
// exactly seqLen positions each. Long texts yield several windows; a word is
// never split across windows unless it alone exceeds the window.
func (t *WordPieceTokenizer) Windows(text string, seqLen int) []Encoding {
	if seqLen < 3 {
		return nil
	}
	capacity := seqLen - 2

	var out []Encoding
	var cur []piece
	flush := func() {
		if len(cur) > 0 {
			out = append(out, t.pack(cur, seqLen))
			cur = nil
		}
	}
	for _, w := range splitWords(text) {
		word := text[w.Start:w.End]
		if t.lowerCase {
			word = strings.ToLower(word)
		}
		pieces := t.wordPieces(word, w.Start)
		if len(word) != w.Len() {
			for i := range pieces {
				pieces[i].span = w
			}
		}
		if len(cur)+len(pieces) > capacity {
			flush()
		}
		for len(pieces) > capacity {
			out = append(out, t.pack(pieces[:capacity], seqLen))
			pieces = pieces[capacity:]
		}
		cur = append(cur, pieces...)
	}
	flush()
	return out
}

func (t *WordPieceTokenizer) pack(pieces []piece, seqLen int) Encoding {
	enc := Encoding{
		IDs:     make([]int64, seqLen),
		Mask:    make([]int64, seqLen),
		Offsets: make([]safety.Span, seqLen),
	}
	for i := range enc.IDs {
		enc.IDs[i] = t.padID
		enc.Offsets[i] = noOffset
	}
	enc.IDs[0], enc.Mask[0] = t.clsID, 1
	for i, p := range pieces {
		enc.IDs[i+1] = p.id
		enc.Mask[i+1] = 1
		enc.Offsets[i+1] = p.span
	}
	enc.IDs[len(pieces)+1], enc.Mask[len(pieces)+1] = t.sepID, 1
	return enc
}

// wordPieces splits one lowercased word by greedy longest match. Candidate
// ends step back one rune at a time so a piece never splits a character.
func (t *WordPieceTokenizer) wordPieces(token string, base int) []piece {
	whole := safety.Span{Start: base, End: base + len(token)}
	if id, ok := t.vocab[token]; ok {
		return []piece{{id: id, span: whole}}
	}

	var pieces []piece
	start := 0
	for start < len(token) {
		end := len(token)
		found := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, piece{id: id, span: safety.Span{Start: base + start, End: base + end}})
				start = end
				found = true
				break
			}
			_, size := utf8.DecodeLastRuneInString(token[start:end])
			end -= size
		}
		if !found {
			return []piece{{id: t.unkID, span: whole}}
		}
	}
	return pieces
}

// splitWords separates on whitespace and isolates punctuation, as the BERT
// basic tokenizer does.
func splitWords(text string) []safety.Span {
	var spans []safety.Span
	start := -1
	for idx, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				spans = append(spans, safety.Span{Start: start, End: idx})
				start = -1
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if start >= 0 {
				spans = append(spans, safety.Span{Start: start, End: idx})
				start = -1
			}
			_, size := utf8.DecodeRuneInString(text[idx:])
			spans = append(spans, safety.Span{Start: idx, End: idx + size})
		default:
			if start < 0 {
				start = idx
			}
		}
	}
	if start >= 0 {
		spans = append(spans, safety.Span{Start: start, End: len(text)})
	}
	return spans
}
