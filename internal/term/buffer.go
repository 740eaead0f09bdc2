package term

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
)

const (
	// MaxBufferBytes caps the total bytes retained across all chunks.
	MaxBufferBytes = 1_000_000

	// BufferFormatVersion is the current on-disk envelope version.
	BufferFormatVersion = 3
)

// Sequences that corrupt a viewer's emulator when replayed out of their
// original context. Alternate-screen switches leave the viewer stuck in
// the wrong screen; the report/response classes are answers to queries
// the viewer never sent, which TUI programs misread as input.
var (
	altScreenSeqs = [][]byte{
		[]byte("\x1b[?1049h"), []byte("\x1b[?1049l"),
		[]byte("\x1b[?1047h"), []byte("\x1b[?1047l"),
		[]byte("\x1b[?47h"), []byte("\x1b[?47l"),
	}
	cursorReportRe = regexp.MustCompile(`\x1b\[\d+;\d+R`)
	deviceAttrRe   = regexp.MustCompile(`\x1b\[[?>][\d;]*c`)
	modeReportRe   = regexp.MustCompile(`\x1b\[\?\d+;\d+\$y`)
)

// MouseMode tracks which mouse-tracking modes an application has
// enabled. These are transient application behavior, not display
// state: they are tracked so the session knows its mode, but never
// re-injected into replayed output.
type MouseMode struct {
	X10         bool `json:"x10"`
	ButtonEvent bool `json:"buttonEvent"`
	AnyEvent    bool `json:"anyEvent"`
	SGR         bool `json:"sgr"`
}

// mouseFlags enumerates the tracked mode-set/reset sequence pairs.
var mouseFlags = []struct {
	set, reset []byte
	apply      func(*MouseMode, bool)
}{
	{[]byte("\x1b[?9h"), []byte("\x1b[?9l"), func(m *MouseMode, v bool) { m.X10 = v }},
	{[]byte("\x1b[?1000h"), []byte("\x1b[?1000l"), func(m *MouseMode, v bool) { m.ButtonEvent = v }},
	{[]byte("\x1b[?1003h"), []byte("\x1b[?1003l"), func(m *MouseMode, v bool) { m.AnyEvent = v }},
	{[]byte("\x1b[?1006h"), []byte("\x1b[?1006l"), func(m *MouseMode, v bool) { m.SGR = v }},
}

var (
	showCursorSeq = []byte("\x1b[?25h")
	hideCursorSeq = []byte("\x1b[?25l")
)

// Buffer is a bounded, append-only scrollback recorder for one
// terminal's raw output. It tracks a small terminal-state record
// derived from every appended chunk, so the state stays correct even
// after old chunks are evicted.
type Buffer struct {
	mu            sync.Mutex
	chunks        [][]byte
	total         int
	mouse         MouseMode
	cursorVisible bool
}

// NewBuffer creates an empty buffer with default state (cursor
// visible, no mouse modes).
func NewBuffer() *Buffer {
	return &Buffer{cursorVisible: true}
}

// Append records a chunk of raw terminal output. The chunk is scanned
// for tracked state transitions, then stored; the oldest chunks are
// evicted while the total exceeds MaxBufferBytes and more than one
// chunk remains.
func (b *Buffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.scanState(data)

	chunk := make([]byte, len(data))
	copy(chunk, data)
	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)

	for b.total > MaxBufferBytes && len(b.chunks) > 1 {
		b.total -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

// scanState updates the state record from one chunk. For each tracked
// flag the last occurrence in the chunk wins.
func (b *Buffer) scanState(data []byte) {
	for _, f := range mouseFlags {
		setIdx := bytes.LastIndex(data, f.set)
		resetIdx := bytes.LastIndex(data, f.reset)
		if setIdx == -1 && resetIdx == -1 {
			continue
		}
		f.apply(&b.mouse, setIdx > resetIdx)
	}

	showIdx := bytes.LastIndex(data, showCursorSeq)
	hideIdx := bytes.LastIndex(data, hideCursorSeq)
	if showIdx != -1 || hideIdx != -1 {
		b.cursorVisible = showIdx > hideIdx
	}
}

// Contents returns the replayable scrollback: all retained chunks
// concatenated, with corrupt-on-replay sequences removed. If the
// tracked cursor state is hidden a hide-cursor sequence is prepended.
func (b *Buffer) Contents() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := b.filteredLocked()
	if !b.cursorVisible {
		return append(append([]byte{}, hideCursorSeq...), filtered...)
	}
	return filtered
}

func (b *Buffer) filteredLocked() []byte {
	joined := bytes.Join(b.chunks, nil)
	for _, seq := range altScreenSeqs {
		joined = bytes.ReplaceAll(joined, seq, nil)
	}
	joined = cursorReportRe.ReplaceAll(joined, nil)
	joined = deviceAttrRe.ReplaceAll(joined, nil)
	joined = modeReportRe.ReplaceAll(joined, nil)
	return joined
}

// Size returns the total bytes currently retained.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// ChunkCount returns the number of retained chunks.
func (b *Buffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Mouse returns the tracked mouse-mode record.
func (b *Buffer) Mouse() MouseMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mouse
}

// CursorVisible returns the tracked cursor-visibility state.
func (b *Buffer) CursorVisible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursorVisible
}

// Clear drops all chunks and resets state to defaults.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.total = 0
	b.mouse = MouseMode{}
	b.cursorVisible = true
}

// bufferFile is the versioned on-disk envelope. Content is stored
// filtered, not raw, so corrupt-on-replay sequences are never
// re-persisted.
type bufferFile struct {
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	MouseMode     MouseMode `json:"mouseMode"`
	CursorVisible bool      `json:"cursorVisible"`
}

// bufferFileV2 is the previous envelope, without the state record.
type bufferFileV2 struct {
	Version int    `json:"version"`
	Content string `json:"content"`
}

// SaveToFile writes the buffer to path in the current format.
func (b *Buffer) SaveToFile(path string) error {
	b.mu.Lock()
	envelope := bufferFile{
		Version:       BufferFormatVersion,
		Content:       base64.StdEncoding.EncodeToString(b.filteredLocked()),
		MouseMode:     b.mouse,
		CursorVisible: b.cursorVisible,
	}
	b.mu.Unlock()

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode buffer: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write buffer file: %w", err)
	}
	return nil
}

// LoadFromFile replaces the buffer with the contents of path. Three
// formats are accepted: the current v3 envelope, the v2 envelope
// (state recovered by rescanning content), and legacy plain text. Any
// parse failure, envelope or content, degrades to the plain-text
// reading rather than failing the load.
func (b *Buffer) LoadFromFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read buffer file: %w", err)
	}

	b.Clear()

	var v3 bufferFile
	if err := json.Unmarshal(raw, &v3); err == nil && v3.Version >= BufferFormatVersion {
		if content, err := base64.StdEncoding.DecodeString(v3.Content); err == nil {
			b.mu.Lock()
			if len(content) > 0 {
				b.chunks = [][]byte{content}
				b.total = len(content)
			}
			b.mouse = v3.MouseMode
			b.cursorVisible = v3.CursorVisible
			b.mu.Unlock()
			return nil
		}
	}

	var v2 bufferFileV2
	if err := json.Unmarshal(raw, &v2); err == nil && v2.Version > 0 {
		if content, err := base64.StdEncoding.DecodeString(v2.Content); err == nil {
			b.Append(content)
			return nil
		}
	}

	// Anything unparseable, including an envelope with corrupt base64
	// content, is taken as raw terminal output.
	b.Append(raw)
	return nil
}
