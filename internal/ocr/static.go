package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Static returns the same tokens for every image. Err, when set, is
// returned instead. It backs tests and the CLI --tokens fixture.
type Static struct {
	Tokens []Token
	Err    error
}

func (s *Static) Name() string { return "static" }

func (s *Static) Extract(ctx context.Context, img []byte) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, unavailable(s.Name(), s.Err)
	}
	out := make([]Token, len(s.Tokens))
	copy(out, s.Tokens)
	return out, nil
}

// LoadStatic reads a JSON array of tokens.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return &Static{Tokens: tokens}, nil
}
