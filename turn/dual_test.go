package turn

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safegate/safegate/domain"
)

// Scenario E: identical input, distinct system prompts, independent results.
func TestDualSubmitIndependentRecords(t *testing.T) {
	leftCfg := ungatedConfig()
	leftCfg.SystemPrompt = "You are terse."
	rightCfg := ungatedConfig()
	rightCfg.SystemPrompt = "You are verbose."
	rightCfg.Generation.Model = "olmo"

	leftGen := &fakeGenerator{content: "Hi."}
	rightGen := &fakeGenerator{content: "Well hello there, friend!"}

	left := New(newSession(t, leftCfg), leftGen, nil, nil, nil)
	right := New(newSession(t, rightCfg), rightGen, nil, nil, nil)
	d := NewDualCoordinator(left, right)

	res := d.Submit(context.Background(), "Hello")
	require.NoError(t, res.LeftErr)
	require.NoError(t, res.RightErr)
	require.Equal(t, "Hi.", res.Left.Assistant.Content)
	require.Equal(t, "Well hello there, friend!", res.Right.Assistant.Content)
	require.NotEqual(t, res.Left.SessionID, res.Right.SessionID)

	// Each side saw its own system prompt and model.
	require.Equal(t, "You are terse.", leftGen.lastRequest().Messages[0].Content)
	require.Equal(t, "olmo", rightGen.lastRequest().Model)
}

func TestDualFailureIsolated(t *testing.T) {
	leftGen := &fakeGenerator{err: fmt.Errorf("%w: boom", domain.ErrBackendUnavailable)}
	rightGen := &fakeGenerator{content: "still fine"}

	left := New(newSession(t, ungatedConfig()), leftGen, nil, nil, nil)
	right := New(newSession(t, ungatedConfig()), rightGen, nil, nil, nil)
	d := NewDualCoordinator(left, right)

	res := d.Submit(context.Background(), "Hello")
	require.NoError(t, res.LeftErr)
	require.Equal(t, domain.ErrorKindUnavailable, res.Left.ErrorKind)
	require.NoError(t, res.RightErr)
	require.Equal(t, "still fine", res.Right.Assistant.Content)
	require.Empty(t, res.Right.ErrorKind)
}
