// Package audiobuf implements the per-session input audio buffer.
//
// Bytes are kept exactly as the client sent them, in the session's input
// wire format. Everything appended stays until a commit or clear. With turn
// detection active a ring mirrors the trailing pre-speech window; on speech
// onset its contents become the padded head of the turn.
package audiobuf

import (
	"errors"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/pkg/audio"
)

// MaxBytes caps the audio appended since the last commit or clear.
const MaxBytes = 15 << 20

// MinCommit is the shortest audio a commit accepts.
const MinCommit = 100 * time.Millisecond

// Sentinel errors.
var (
	ErrEmpty    = errors.New("audiobuf: buffer empty")
	ErrTooShort = errors.New("audiobuf: buffer shorter than minimum commit")
	ErrFull     = errors.New("audiobuf: buffer full")
)

// Buffer is the input audio buffer of one session. It is owned by the
// session actor and not safe for concurrent use.
type Buffer struct {
	format   audio.WireFormat
	retained []byte
	elapsed  time.Duration

	// prefix mirrors the trailing window of audio while nobody speaks. Nil
	// when turn detection is off.
	prefix   *ringbuffer.RingBuffer
	speaking bool
	// head is the prefix window captured at speech onset and onset the
	// offset in retained where speech began.
	head  []byte
	onset int
}

// New returns an empty buffer for format.
func New(format audio.WireFormat) *Buffer {
	return &Buffer{format: format}
}

// Format returns the wire format of the buffered bytes.
func (b *Buffer) Format() audio.WireFormat { return b.format }

// SetFormat switches the input format. Buffered audio in the old format is
// discarded.
func (b *Buffer) SetFormat(f audio.WireFormat) {
	if f == b.format {
		return
	}
	b.format = f
	b.Clear()
	b.prefix = nil
}

// SetPrefixWindow sets how much pre-speech audio StartSpeech puts in front
// of a turn. Zero turns the window off. Buffered audio is never dropped.
func (b *Buffer) SetPrefixWindow(d time.Duration) {
	n := b.format.BytesFor(d)
	switch {
	case n <= 0:
		b.prefix = nil
	case b.prefix == nil || b.prefix.Capacity() != n:
		b.prefix = ringbuffer.New(n)
		if !b.speaking {
			b.mirror(b.retained)
		}
	}
}

// Append adds raw wire bytes. It fails without side effects when the bytes
// are malformed for the format or the buffer would exceed MaxBytes.
func (b *Buffer) Append(raw []byte) error {
	if err := b.Check(raw); err != nil {
		return err
	}
	b.elapsed += b.format.Duration(len(raw))
	b.retained = append(b.retained, raw...)
	if !b.speaking {
		b.mirror(raw)
	}
	return nil
}

// Check reports the error Append would return for raw without appending.
func (b *Buffer) Check(raw []byte) error {
	if err := b.format.Validate(raw); err != nil {
		return protocol.InvalidRequest(protocol.CodeInvalidAudio,
			"Invalid %s audio: %v.", b.format, err).WithParam("audio").Wrap(err)
	}
	if b.Len()+len(raw) > MaxBytes {
		return protocol.InvalidRequest(protocol.CodeBufferFull,
			"Input audio buffer would exceed the maximum size of %d bytes. Commit or clear it first.", MaxBytes).
			WithParam("audio").Wrap(ErrFull)
	}
	return nil
}

// StartSpeech marks speech onset. The current prefix window becomes the
// head of the turn.
func (b *Buffer) StartSpeech() {
	if b.speaking {
		return
	}
	b.speaking = true
	b.onset = len(b.retained)
	b.head = b.drainPrefix()
}

// Speaking reports whether StartSpeech was called since the last commit or
// clear.
func (b *Buffer) Speaking() bool { return b.speaking }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.retained) }

// Duration returns the playback length of the buffered bytes.
func (b *Buffer) Duration() time.Duration { return b.format.Duration(b.Len()) }

// Elapsed returns the playback length of everything ever appended, the
// session's input audio clock.
func (b *Buffer) Elapsed() time.Duration { return b.elapsed }

// Commit returns everything appended since the last commit or clear and
// empties the buffer.
//
// A buffer under MinCommit is rejected and left as is. Both an empty and a
// short buffer report input_audio_buffer_commit_empty, the code clients of
// the upstream protocol already handle; the sentinels ErrEmpty and
// ErrTooShort tell them apart.
func (b *Buffer) Commit() ([]byte, error) {
	if err := b.checkCommit(b.Len()); err != nil {
		return nil, err
	}
	out := b.retained
	b.reset()
	return out, nil
}

// CommitTurn returns the current speech turn, its prefix window followed by
// everything since onset, and empties the buffer. Audio before the window
// is not part of the turn and is discarded. Without StartSpeech it behaves
// like Commit.
func (b *Buffer) CommitTurn() ([]byte, error) {
	if !b.speaking {
		return b.Commit()
	}
	if err := b.checkCommit(b.turnLen()); err != nil {
		return nil, err
	}
	out := b.Turn()
	b.reset()
	return out, nil
}

// Turn returns a copy of the current speech turn without consuming it, or
// of the whole buffer when no speech is active.
func (b *Buffer) Turn() []byte {
	if !b.speaking {
		return append([]byte(nil), b.retained...)
	}
	out := make([]byte, 0, b.turnLen())
	out = append(out, b.head...)
	return append(out, b.retained[b.onset:]...)
}

// Clear discards the buffered audio.
func (b *Buffer) Clear() { b.reset() }

func (b *Buffer) reset() {
	b.retained = nil
	b.speaking = false
	b.head = nil
	b.onset = 0
	if b.prefix != nil {
		b.prefix.Reset()
	}
}

func (b *Buffer) turnLen() int { return len(b.head) + len(b.retained) - b.onset }

func (b *Buffer) checkCommit(n int) error {
	if n == 0 {
		return protocol.InvalidRequest(protocol.CodeBufferCommitEmpty,
			"Error committing input audio buffer: the buffer is empty.").Wrap(ErrEmpty)
	}
	if d := b.format.Duration(n); d < MinCommit {
		return protocol.InvalidRequest(protocol.CodeBufferCommitEmpty,
			"Error committing input audio buffer: buffer too small. Expected at least %dms of audio, but buffer only has %.2fms of audio.",
			MinCommit.Milliseconds(), float64(d)/float64(time.Millisecond)).Wrap(ErrTooShort)
	}
	return nil
}

func (b *Buffer) drainPrefix() []byte {
	if b.prefix == nil || b.prefix.IsEmpty() {
		return nil
	}
	out := make([]byte, b.prefix.Length())
	n, _ := b.prefix.Read(out)
	return out[:n]
}

// mirror writes p into the prefix ring, dropping the oldest bytes to make
// room. Drops are whole samples as long as every write is.
func (b *Buffer) mirror(p []byte) {
	if b.prefix == nil || len(p) == 0 {
		return
	}
	capacity := b.prefix.Capacity()
	if len(p) >= capacity {
		b.prefix.Reset()
		p = p[len(p)-capacity:]
	}
	if over := len(p) - b.prefix.Free(); over > 0 {
		discard := make([]byte, over)
		_, _ = b.prefix.Read(discard)
	}
	_, _ = b.prefix.Write(p)
}
