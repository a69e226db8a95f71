package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrOddLength is returned when PCM16 input does not contain a whole number
// of samples.
var ErrOddLength = errors.New("audio: pcm16 payload has odd byte length")

// Encoding identifies how samples are laid out on the wire.
type Encoding uint8

const (
	EncodingPCM16 Encoding = iota + 1
	EncodingULaw
	EncodingALaw
)

// WireFormat is one of the closed set of audio formats a session may declare
// for its input or output stream. The zero value is invalid; use [PCM16],
// [G711ULaw], [G711ALaw] or [ParseWireFormat].
type WireFormat struct {
	name           string
	encoding       Encoding
	sampleRate     int
	bytesPerSample int
}

var (
	// PCM16 is 24 kHz mono little-endian 16-bit linear PCM.
	PCM16 = WireFormat{name: "pcm16", encoding: EncodingPCM16, sampleRate: 24000, bytesPerSample: 2}

	// G711ULaw is 8 kHz µ-law, one byte per sample.
	G711ULaw = WireFormat{name: "g711_ulaw", encoding: EncodingULaw, sampleRate: 8000, bytesPerSample: 1}

	// G711ALaw is 8 kHz A-law, one byte per sample.
	G711ALaw = WireFormat{name: "g711_alaw", encoding: EncodingALaw, sampleRate: 8000, bytesPerSample: 1}
)

// WireFormatNames lists the accepted wire names in declaration order.
var WireFormatNames = []string{PCM16.name, G711ULaw.name, G711ALaw.name}

// ParseWireFormat resolves a wire name such as "g711_ulaw".
func ParseWireFormat(name string) (WireFormat, error) {
	switch name {
	case PCM16.name:
		return PCM16, nil
	case G711ULaw.name:
		return G711ULaw, nil
	case G711ALaw.name:
		return G711ALaw, nil
	}
	return WireFormat{}, fmt.Errorf("audio: unknown wire format %q", name)
}

func (f WireFormat) String() string     { return f.name }
func (f WireFormat) Encoding() Encoding { return f.encoding }
func (f WireFormat) SampleRate() int    { return f.sampleRate }
func (f WireFormat) IsZero() bool       { return f.encoding == 0 }

// BytesPerSample is 2 for PCM16 and 1 for the G.711 laws.
func (f WireFormat) BytesPerSample() int { return f.bytesPerSample }

// Duration reports how long n wire bytes play for.
func (f WireFormat) Duration(n int) time.Duration {
	if f.IsZero() {
		return 0
	}
	samples := n / f.bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(f.sampleRate)
}

// BytesFor reports how many wire bytes hold d of audio, rounded down to a
// whole sample.
func (f WireFormat) BytesFor(d time.Duration) int {
	if f.IsZero() || d <= 0 {
		return 0
	}
	samples := int(int64(d) * int64(f.sampleRate) / int64(time.Second))
	return samples * f.bytesPerSample
}

// Validate checks that raw is well formed for f.
func (f WireFormat) Validate(raw []byte) error {
	if f.encoding == EncodingPCM16 && len(raw)%2 != 0 {
		return ErrOddLength
	}
	return nil
}

// Decode converts wire bytes to PCM16 at f's sample rate. PCM16 input is
// returned as-is.
func (f WireFormat) Decode(raw []byte) ([]byte, error) {
	switch f.encoding {
	case EncodingPCM16:
		if len(raw)%2 != 0 {
			return nil, ErrOddLength
		}
		return raw, nil
	case EncodingULaw:
		return DecodeULaw(raw), nil
	case EncodingALaw:
		return DecodeALaw(raw), nil
	}
	return nil, fmt.Errorf("audio: decode with unresolved wire format")
}

// Encode converts PCM16 at f's sample rate into wire bytes.
func (f WireFormat) Encode(pcm []byte) []byte {
	switch f.encoding {
	case EncodingULaw:
		return EncodeULaw(pcm)
	case EncodingALaw:
		return EncodeALaw(pcm)
	}
	return pcm
}

// FromPCM16 resamples PCM16 from srcRate to f's rate and encodes it.
func (f WireFormat) FromPCM16(pcm []byte, srcRate int) []byte {
	return f.Encode(ResampleMono16(pcm, srcRate, f.sampleRate))
}
