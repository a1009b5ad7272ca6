package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) add(line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(line))
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestReadAll(t *testing.T) {
	in := "{\"a\":1}\n\n  \r\n{\"b\":2}\r\n{\"c\":3}"
	var c collector
	n, err := ReadAll(context.Background(), strings.NewReader(in), 0, c.add)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, c.snapshot())
}

func TestReadAll_SkipsOversizedLines(t *testing.T) {
	in := "short\n" + strings.Repeat("x", 50) + "\nafter\n"
	var c collector
	n, err := ReadAll(context.Background(), strings.NewReader(in), 16, c.add)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"short", "after"}, c.snapshot())
}

func TestSplitter_ChunkBoundaries(t *testing.T) {
	var c collector
	sp := newSplitter(0)
	sp.feed([]byte(`{"type":"te`), c.add)
	assert.Empty(t, c.snapshot())
	sp.feed([]byte("xt-delta\"}\n{\"x\""), c.add)
	assert.Equal(t, []string{`{"type":"text-delta"}`}, c.snapshot())
	sp.flush(c.add)
	assert.Equal(t, `{"x"`, c.snapshot()[1])
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl"), 0, func([]byte) {})
	assert.Error(t, err)
}

func TestFollow_AppendsAndTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))

	var c collector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, path, 0, c.add) }()

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("two\nthr")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	_, err = f.WriteString("ee\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, c.snapshot())

	// 截断后从头读取
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	require.Eventually(t, func() bool {
		lines := c.snapshot()
		return len(lines) == 4 && lines[3] == "x"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
