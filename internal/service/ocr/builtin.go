package ocr

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
)

// BuiltinProvider is the development and test provider. Output is a pure
// function of the content digest.
type BuiltinProvider struct{}

// NewBuiltinProvider creates the deterministic provider.
func NewBuiltinProvider() *BuiltinProvider {
	return &BuiltinProvider{}
}

func (p *BuiltinProvider) Name() string { return "builtin" }

var lexicon = []string{
	"defendant", "was", "searched", "incident", "to", "arrest", "the",
	"affidavit", "omits", "material", "facts", "supporting", "probable",
	"cause", "exculpatory", "report", "withheld", "from", "discovery",
	"statement", "obtained", "after", "invocation", "of", "counsel",
}

func (p *BuiltinProvider) Recognize(_ context.Context, req Request) ([]analysis.OCRPage, error) {
	seed, err := digestSeed(req.ContentDigest)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	pageCount := 1
	if req.DeclaredType == evidence.TypeDocument {
		// One simulated page per 64 KiB, capped at 40.
		pageCount = int(req.SizeBytes/(64<<10)) + 1
		if pageCount > 40 {
			pageCount = 40
		}
	}

	pages := make([]analysis.OCRPage, pageCount)
	for i := range pages {
		words := make([]string, 20+rng.Intn(20))
		for w := range words {
			words[w] = lexicon[rng.Intn(len(lexicon))]
		}
		pages[i] = analysis.OCRPage{
			PageNumber: i + 1,
			Text:       strings.Join(words, " "),
			Confidence: 0.90,
		}
	}
	return pages, nil
}

func digestSeed(digest string) (int64, error) {
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) < 8 {
		return 0, fmt.Errorf("content digest %q is not a hex sha-256", digest)
	}
	return int64(binary.BigEndian.Uint64(raw[:8])), nil
}
