package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const fallbackEncoding = "cl100k_base"

func init() {
	// BPE ranks ship inside the binary; no download at startup.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

type Counter interface {
	Count(text string) int
}

// BPE counts tokens with the byte-pair encoding of the target model.
type BPE struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// ForModel resolves the encoding used by model. Models the tokenizer table
// does not know fall back to cl100k_base.
func ForModel(model string) (*BPE, error) {
	model = strings.TrimSpace(model)
	if model != "" {
		if encoding, err := tiktoken.EncodingForModel(model); err == nil {
			return &BPE{encoding: encoding, name: model}, nil
		}
	}
	encoding, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", fallbackEncoding, err)
	}
	return &BPE{encoding: encoding, name: fallbackEncoding}, nil
}

func (b *BPE) Name() string {
	return b.name
}

func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.encoding.Encode(text, nil, nil))
}

// Estimate is an upper bound for any byte-level BPE: every token covers at
// least one byte.
type Estimate struct{}

func (Estimate) Count(text string) int {
	return len(text)
}

// New returns the model BPE or, when the encoding cannot be loaded, the
// byte estimate together with the load error so callers can log it.
func New(model string) (Counter, error) {
	bpe, err := ForModel(model)
	if err != nil {
		return Estimate{}, err
	}
	return bpe, nil
}
