package transcription

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
)

// BuiltinProvider is the development and test provider. Output is a pure
// function of the content digest, so repeated runs over the same artifact
// produce byte-identical transcripts.
type BuiltinProvider struct{}

// NewBuiltinProvider creates the deterministic provider.
func NewBuiltinProvider() *BuiltinProvider {
	return &BuiltinProvider{}
}

func (p *BuiltinProvider) Name() string { return "builtin" }

var lexicon = []string{
	"the", "witness", "stated", "that", "officer", "did", "not", "advise",
	"rights", "before", "questioning", "began", "counsel", "was", "requested",
	"and", "interview", "continued", "detained", "without", "warrant",
	"statement", "recorded", "on", "scene", "evidence", "collected", "later",
}

func (p *BuiltinProvider) Transcribe(_ context.Context, req Request) (*analysis.Transcript, error) {
	seed, err := digestSeed(req.ContentDigest)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	// Duration tracks artifact size: one simulated minute per 4 MiB,
	// floor one minute.
	minutes := req.SizeBytes / (4 << 20)
	if minutes < 1 {
		minutes = 1
	}
	durationSec := float64(minutes * 60)

	segmentCount := int(minutes) * 2
	segments := make([]analysis.Segment, 0, segmentCount)
	var text strings.Builder
	span := durationSec / float64(segmentCount)
	for i := 0; i < segmentCount; i++ {
		words := make([]string, 8+rng.Intn(8))
		for w := range words {
			words[w] = lexicon[rng.Intn(len(lexicon))]
		}
		line := strings.Join(words, " ")
		if text.Len() > 0 {
			text.WriteString(" ")
		}
		text.WriteString(line)

		segments = append(segments, analysis.Segment{
			StartSec:     float64(i) * span,
			EndSec:       float64(i+1) * span,
			SpeakerLabel: fmt.Sprintf("speaker_%d", rng.Intn(2)),
			Text:         line,
		})
	}

	return &analysis.Transcript{
		Text:            text.String(),
		DurationSeconds: durationSec,
		Confidence:      0.92,
		Language:        "en",
		Segments:        segments,
	}, nil
}

// digestSeed folds a hex sha-256 into a PRNG seed.
func digestSeed(digest string) (int64, error) {
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) < 8 {
		return 0, fmt.Errorf("content digest %q is not a hex sha-256", digest)
	}
	return int64(binary.BigEndian.Uint64(raw[:8])), nil
}
