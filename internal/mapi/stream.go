package mapi

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/dustin/go-humanize"
)

// StreamEncoding says how the bytes of a streamed property are interpreted.
type StreamEncoding int

const (
	EncodingUnknown StreamEncoding = iota
	EncodingBinary
	EncodingUTF16
	EncodingUTF8
)

func (e StreamEncoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingUTF16:
		return "utf16"
	case EncodingUTF8:
		return "utf8"
	}
	return "unknown"
}

// MaxStreamSize is the largest stream that can be materialized.
const MaxStreamSize = math.MaxUint32

// PropertyStream is a property opened for sequential reading.
type PropertyStream interface {
	io.Reader
	io.Closer
	// Size reports the total length of the stream in bytes.
	Size() (uint64, error)
}

// StreamValue wraps a property that was too large for a bulk fetch. The
// stream is read the first time Materialize is called and the decoded result
// (or error) is kept for every later call.
type StreamValue struct {
	encoding StreamEncoding

	once   sync.Once
	stream PropertyStream
	value  Value
	err    error
}

// NewStreamValue takes ownership of stream.
func NewStreamValue(stream PropertyStream, encoding StreamEncoding) *StreamValue {
	return &StreamValue{stream: stream, encoding: encoding}
}

func (*StreamValue) Kind() ValueKind { return KindStream }

// Clone returns the receiver: the stream handle is single-use, so clones
// share the memoized result.
func (v *StreamValue) Clone() Value { return v }

// Encoding returns the encoding the stream was tagged with.
func (v *StreamValue) Encoding() StreamEncoding {
	return v.encoding
}

// Materialize reads and decodes the full stream. The result is a StringValue
// for text encodings and a BinaryValue otherwise.
func (v *StreamValue) Materialize() (Value, error) {
	v.once.Do(func() {
		v.value, v.err = readStream(v.stream, v.encoding)
		if cerr := v.stream.Close(); cerr != nil && v.err == nil {
			v.err = fmt.Errorf("failed to close property stream: %w", cerr)
		}
		v.stream = nil
	})
	return v.value, v.err
}

// Close releases the stream if it was never materialized. It is a no-op after
// Materialize.
func (v *StreamValue) Close() error {
	var err error
	v.once.Do(func() {
		v.err = ErrStreamClosed
		err = v.stream.Close()
		v.stream = nil
	})
	return err
}

func readStream(stream PropertyStream, encoding StreamEncoding) (Value, error) {
	size, err := stream.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to stat property stream: %w", err)
	}
	if size > MaxStreamSize {
		return nil, fmt.Errorf("%w: %s", ErrStreamTooLarge, humanize.IBytes(size))
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(stream, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read property stream: %w", err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("%w: stream reported %d bytes, read %d", ErrInconsistent, size, n)
	}

	switch encoding {
	case EncodingUTF8:
		return StringValue(buf), nil
	case EncodingUTF16:
		s, err := DecodeUTF16(buf)
		if err != nil {
			return nil, err
		}
		return StringValue(s), nil
	default:
		return BinaryValue(buf), nil
	}
}
