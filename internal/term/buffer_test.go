package term

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndContents(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("hello "))
	b.Append([]byte("world"))

	assert.Equal(t, []byte("hello world"), b.Contents())
	assert.Equal(t, 11, b.Size())
	assert.Equal(t, 2, b.ChunkCount())
}

func TestBufferEvictionCeiling(t *testing.T) {
	b := NewBuffer()
	chunk := bytes.Repeat([]byte("x"), 100_000)
	for i := 0; i < 25; i++ {
		b.Append(chunk)
	}

	assert.LessOrEqual(t, b.Size(), MaxBufferBytes)
	assert.Equal(t, MaxBufferBytes/100_000, b.ChunkCount())
}

func TestBufferKeepsOversizedChunk(t *testing.T) {
	// A single chunk larger than the cap is retained: eviction never
	// drops the last chunk.
	b := NewBuffer()
	b.Append(bytes.Repeat([]byte("y"), MaxBufferBytes+500))

	assert.Equal(t, 1, b.ChunkCount())
	assert.Equal(t, MaxBufferBytes+500, b.Size())
}

func TestBufferFiltersReplayCorruptingSequences(t *testing.T) {
	tests := []struct {
		name string
		seq  string
	}{
		{"alt screen 1049 enter", "\x1b[?1049h"},
		{"alt screen 1049 leave", "\x1b[?1049l"},
		{"alt screen 1047 enter", "\x1b[?1047h"},
		{"alt screen 47 leave", "\x1b[?47l"},
		{"cursor position report", "\x1b[24;80R"},
		{"primary device attributes", "\x1b[?1;2c"},
		{"secondary device attributes", "\x1b[>0;276;0c"},
		{"mode report", "\x1b[?2026;1$y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			b.Append([]byte("before" + tt.seq + "after"))

			got := string(b.Contents())
			assert.NotContains(t, got, tt.seq)
			assert.Contains(t, got, "before")
			assert.Contains(t, got, "after")
		})
	}
}

func TestBufferMouseModeLastOccurrenceWins(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("\x1b[?1000h\x1b[?1006h"))
	assert.True(t, b.Mouse().ButtonEvent)
	assert.True(t, b.Mouse().SGR)

	b.Append([]byte("\x1b[?1000l"))
	assert.False(t, b.Mouse().ButtonEvent)
	assert.True(t, b.Mouse().SGR)

	// Set then reset within one chunk: reset wins.
	b.Append([]byte("\x1b[?1003h...\x1b[?1003l"))
	assert.False(t, b.Mouse().AnyEvent)
}

func TestBufferStateSurvivesEviction(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("\x1b[?1000h\x1b[?25l"))

	// Push far more than the cap so the state-bearing chunk is evicted.
	filler := bytes.Repeat([]byte("z"), 100_000)
	for i := 0; i < 20; i++ {
		b.Append(filler)
	}

	assert.True(t, b.Mouse().ButtonEvent)
	assert.False(t, b.CursorVisible())
	assert.True(t, bytes.HasPrefix(b.Contents(), []byte("\x1b[?25l")))
}

func TestBufferCursorHiddenPrepend(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("output\x1b[?25l"))
	assert.False(t, b.CursorVisible())

	got := b.Contents()
	require.True(t, bytes.HasPrefix(got, []byte("\x1b[?25l")))

	b.Append([]byte("\x1b[?25h"))
	assert.True(t, b.CursorVisible())
	assert.False(t, bytes.HasPrefix(b.Contents(), []byte("\x1b[?25l")))
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("\x1b[?1000h\x1b[?25ldata"))
	b.Clear()

	assert.Zero(t, b.Size())
	assert.Empty(t, b.Contents())
	assert.Equal(t, MouseMode{}, b.Mouse())
	assert.True(t, b.CursorVisible())
}

func TestBufferSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "term.buf")

	b := NewBuffer()
	b.Append([]byte("session output\x1b[?1003h\x1b[?25l"))
	want := b.Contents()
	require.NoError(t, b.SaveToFile(path))

	loaded := NewBuffer()
	require.NoError(t, loaded.LoadFromFile(path))

	assert.Equal(t, want, loaded.Contents())
	assert.Equal(t, b.Mouse(), loaded.Mouse())
	assert.False(t, loaded.CursorVisible())
}

func TestBufferLoadV2RescansState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "term.buf")
	// v2 envelope: content only, no state record. "output" plus a mouse
	// enable, base64 of which the loader must rescan.
	require.NoError(t, os.WriteFile(path, []byte(
		`{"version":2,"content":"b3V0cHV0G1s/MTAwMGg="}`), 0o600))

	b := NewBuffer()
	require.NoError(t, b.LoadFromFile(path))

	assert.Contains(t, string(b.Contents()), "output")
	assert.True(t, b.Mouse().ButtonEvent)
}

func TestBufferLoadCorruptContentFallsBackToRawText(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"v3 bad base64", `{"version":3,"content":"!!!not-base64!!!","cursorVisible":true}`},
		{"v2 bad base64", `{"version":2,"content":"%%%"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "term.buf")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			b := NewBuffer()
			b.Append([]byte("pre-existing"))
			require.NoError(t, b.LoadFromFile(path))

			// The file is taken as raw output, replacing prior contents.
			assert.Equal(t, tt.body, string(b.Contents()))
		})
	}
}

func TestBufferLoadLegacyPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "term.buf")
	require.NoError(t, os.WriteFile(path, []byte("plain old scrollback\x1b[?25l"), 0o600))

	b := NewBuffer()
	require.NoError(t, b.LoadFromFile(path))

	assert.True(t, strings.Contains(string(b.Contents()), "plain old scrollback"))
	assert.False(t, b.CursorVisible())
}
