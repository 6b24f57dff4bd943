package intel

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

const randomToken = "aB3dE5fG7hJ9kL1mN3pQ5rS7tU9vW"

func TestEntropyDetectsRandomToken(t *testing.T) {
	d := NewEntropyDetector(EntropyOptions{})
	text := "token: " + randomToken + " end"

	ms, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, ms, 1)

	m := ms[0]
	assert.Equal(t, safety.TypeHighEntropySecret, m.Type)
	assert.Equal(t, safety.PriorityEntropy, m.Priority)
	assert.Equal(t, safety.SourceEntropy, m.Source)
	assert.Equal(t, randomToken, text[m.Span.Start:m.Span.End])
	assert.Greater(t, m.Confidence, float32(0.7))
	assert.LessOrEqual(t, m.Confidence, float32(1))
}

func TestEntropyIgnoresLowEntropyAndShortTokens(t *testing.T) {
	d := NewEntropyDetector(EntropyOptions{})
	text := strings.Join([]string{
		strings.Repeat("a", 40),
		"abcdefghijklmnopqrstuvwxyz", // single character class
		"aB3dE5fG7h",                 // too short
		"the quick brown fox jumps over the lazy dog",
	}, " ")

	ms, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestEntropySkipsCoveredSpans(t *testing.T) {
	d := NewEntropyDetector(EntropyOptions{})
	text := "a " + randomToken + " b " + randomToken
	first := strings.Index(text, randomToken)
	covered := []safety.Span{{Start: first + 3, End: first + 8}}

	ms, err := d.DetectUncovered(context.Background(), text, covered)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, strings.LastIndex(text, randomToken), ms[0].Span.Start)
}

func TestEntropyThresholdOption(t *testing.T) {
	strict := NewEntropyDetector(EntropyOptions{Threshold: 7.9})
	ms, err := strict.Detect(context.Background(), randomToken)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, ShannonEntropy(""))
	assert.Zero(t, ShannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, ShannonEntropy("abab"), 1e-9)
	assert.InDelta(t, 2.0, ShannonEntropy("abcd"), 1e-9)
}
