package transcription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
)

func digestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func mediaRequest(content string) Request {
	return Request{
		EvidenceID:    "ev-1",
		ContentDigest: digestOf(content),
		DeclaredType:  evidence.TypeAudio,
		SizeBytes:     10 << 20,
	}
}

func TestBuiltinProviderIsDeterministic(t *testing.T) {
	p := NewBuiltinProvider()
	req := mediaRequest("body camera recording")

	first, err := p.Transcribe(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Transcribe(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Text)
	assert.Equal(t, "en", first.Language)
	assert.Greater(t, first.DurationSeconds, 0.0)
	assert.NotEmpty(t, first.Segments)
}

func TestBuiltinProviderVariesByContent(t *testing.T) {
	p := NewBuiltinProvider()

	a, err := p.Transcribe(context.Background(), mediaRequest("recording A"))
	require.NoError(t, err)
	b, err := p.Transcribe(context.Background(), mediaRequest("recording B"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Text, b.Text)
}

func TestServiceRejectsNonMedia(t *testing.T) {
	s := New(NewBuiltinProvider(), nil, 0, zaptest.NewLogger(t))

	req := mediaRequest("doc")
	req.DeclaredType = evidence.TypeDocument
	_, err := s.Transcribe(context.Background(), req)
	assert.Equal(t, errors.KindMalformedRequest, errors.KindOf(err))
}

func TestServiceMissingProvider(t *testing.T) {
	s := New(nil, nil, 0, zaptest.NewLogger(t))

	_, err := s.Transcribe(context.Background(), mediaRequest("x"))
	assert.Equal(t, errors.KindDependencyUnavailable, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))
}

type failingProvider struct{ calls int }

func (f *failingProvider) Name() string { return "failing" }
func (f *failingProvider) Transcribe(context.Context, Request) (*analysis.Transcript, error) {
	f.calls++
	return nil, fmt.Errorf("provider exploded")
}

func TestServiceBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	provider := &failingProvider{}
	s := New(provider, nil, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Transcribe(ctx, mediaRequest("x"))
		require.Error(t, err)
	}
	callsBeforeOpen := provider.calls

	_, err := s.Transcribe(ctx, mediaRequest("x"))
	assert.Equal(t, errors.KindDependencyUnavailable, errors.KindOf(err))
	assert.Equal(t, callsBeforeOpen, provider.calls, "open breaker must not call the provider")
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }
func (slowProvider) Transcribe(ctx context.Context, _ Request) (*analysis.Transcript, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Minute):
		return &analysis.Transcript{}, nil
	}
}

func TestServiceWallClockLimit(t *testing.T) {
	s := New(slowProvider{}, nil, 50*time.Millisecond, zaptest.NewLogger(t))

	_, err := s.Transcribe(context.Background(), mediaRequest("x"))
	assert.Equal(t, errors.KindDeadlineExceeded, errors.KindOf(err))
}

func TestServicePublishesProgress(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t))
	defer bus.Close()

	var mu sync.Mutex
	var topics []string
	cancel := bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		topics = append(topics, ev.Topic)
		mu.Unlock()
	}, "stage.transcription.progress")
	defer cancel()

	s := New(NewBuiltinProvider(), bus, 0, zaptest.NewLogger(t))
	_, err := s.Transcribe(context.Background(), mediaRequest("x"))
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(topics)
		mu.Unlock()
		if n >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no progress event published")
}
