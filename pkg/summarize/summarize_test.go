package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/score"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]int // number of leading failures per name
	active   int32
	peak     int32
	hold     time.Duration
	response func(prompt string) string
}

func (f *fakeClient) Summarize(ctx context.Context, prompt string) (string, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	name := strings.TrimPrefix(strings.SplitN(prompt, "\n", 2)[0], "Name: ")
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	call := f.calls[name]
	f.mu.Unlock()

	if call <= f.fail[name] {
		return "", errors.New("boom")
	}
	if f.response != nil {
		return f.response(prompt), nil
	}
	return "summary of " + name, nil
}

func cand(id, summary string) score.Candidate {
	return score.Candidate{Item: catalog.Item{ID: id, Name: id, Summary: summary}}
}

func newTest(c Client, retries int) *Summarizer {
	s := New(c, Options{Concurrency: 3, Retries: retries, Backoff: time.Millisecond}, nil)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func TestRunAllOK(t *testing.T) {
	client := &fakeClient{}
	s := newTest(client, 2)

	out, st := s.Run(context.Background(), []score.Candidate{cand("a", ""), cand("b", ""), cand("c", "")})
	require.Len(t, out, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, out[i].ID)
		assert.Equal(t, StatusOK, out[i].Status)
		assert.Equal(t, "summary of "+id, out[i].Text)
		assert.Equal(t, 1, out[i].Attempts)
	}
	assert.Equal(t, Stats{OK: 3}, st)
	assert.Zero(t, st.Degraded())
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	client := &fakeClient{fail: map[string]int{"a": 2}}
	s := newTest(client, 2)

	out, st := s.Run(context.Background(), []score.Candidate{cand("a", "desc")})
	require.Len(t, out, 1)
	assert.Equal(t, StatusOK, out[0].Status)
	assert.Equal(t, 3, out[0].Attempts)
	assert.Equal(t, 1, st.OK)
}

func TestRunFallbackIsolatesFailures(t *testing.T) {
	client := &fakeClient{fail: map[string]int{"bad": 10, "worse": 10}}
	s := newTest(client, 2)

	out, st := s.Run(context.Background(), []score.Candidate{
		cand("good", "whatever"),
		cand("bad", "  A   multi\nline\tdescription  "),
		cand("worse", ""),
	})
	require.Len(t, out, 3)

	assert.Equal(t, StatusOK, out[0].Status)

	assert.Equal(t, StatusFallback, out[1].Status)
	assert.Equal(t, "A multi line description", out[1].Text)
	assert.Equal(t, 3, out[1].Attempts)
	assert.Error(t, out[1].Err)

	assert.Equal(t, StatusFailed, out[2].Status)
	assert.Equal(t, PlaceholderText, out[2].Text)

	assert.Equal(t, Stats{OK: 1, Fallback: 1, Failed: 1}, st)
	assert.Equal(t, 2, st.Degraded())
}

func TestRunEmptyResponseIsFailure(t *testing.T) {
	client := &fakeClient{response: func(string) string { return "   " }}
	s := newTest(client, 1)

	out, _ := s.Run(context.Background(), []score.Candidate{cand("a", "fallback text")})
	assert.Equal(t, StatusFallback, out[0].Status)
	assert.ErrorIs(t, out[0].Err, ErrEmptySummary)
	assert.Equal(t, 2, out[0].Attempts)
}

func TestRunNilClient(t *testing.T) {
	s := newTest(nil, 2)
	out, st := s.Run(context.Background(), []score.Candidate{cand("a", "desc"), cand("b", "")})
	assert.Equal(t, StatusFallback, out[0].Status)
	assert.Equal(t, 0, out[0].Attempts)
	assert.Equal(t, StatusFailed, out[1].Status)
	assert.Equal(t, Stats{Fallback: 1, Failed: 1}, st)
}

func TestRunBoundedConcurrency(t *testing.T) {
	client := &fakeClient{hold: 20 * time.Millisecond}
	s := newTest(client, 0)

	var cands []score.Candidate
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		cands = append(cands, cand(id, ""))
	}
	_, st := s.Run(context.Background(), cands)
	assert.Equal(t, 8, st.OK)
	assert.LessOrEqual(t, atomic.LoadInt32(&client.peak), int32(3))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("  \n\t "))
	assert.Equal(t, "a b", Truncate("a\n\nb"))

	long := strings.Repeat("模", 400)
	got := Truncate(long)
	assert.Equal(t, 298, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, strings.Repeat("模", 297)+"…", got)

	exact := strings.Repeat("x", 300)
	assert.Equal(t, exact, Truncate(exact))
	assert.Equal(t, 298, utf8.RuneCountInString(Truncate(exact+"y")))
}

func TestPrompt(t *testing.T) {
	c := score.Candidate{
		Item: catalog.Item{
			ID:      "acme/widget",
			Name:    "widget",
			URL:     "https://example.com/acme/widget",
			License: "mit",
			Tags:    []string{"llm", "agents"},
			Metrics: map[string]float64{"stars": 1200},
			Summary: "A widget.",
		},
		Deltas: map[string]float64{"stars": 80},
	}
	p := Prompt(c)
	assert.True(t, strings.HasPrefix(p, "Name: widget\n"))
	assert.Contains(t, p, "License: mit")
	assert.Contains(t, p, "stars 1200 · stars_7d 80")
	assert.Contains(t, p, "Tags: llm, agents")
	assert.Contains(t, p, "Description: A widget.")
}
