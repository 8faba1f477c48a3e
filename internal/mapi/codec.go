package mapi

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// RawProp is a property as the store returns it: a tag and its little-endian
// wire payload.
type RawProp struct {
	Tag  Tag
	Data []byte
}

// ErrorCode returns the SCODE of a PT_ERROR property.
func (p RawProp) ErrorCode() (uint32, bool) {
	if p.Tag.Type() != PtError || len(p.Data) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p.Data), true
}

// Clone copies the payload.
func (p RawProp) Clone() RawProp {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return RawProp{Tag: p.Tag, Data: data}
}

// FILETIME epoch offset: 1601-01-01 to 1970-01-01 in 100ns ticks.
const fileTimeEpochDelta = 116444736000000000

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Decode converts a raw property into a Value, dispatching on its wire type.
// Types outside the model decode to nil. A fixed-width payload of the wrong
// size is a broken store contract.
func Decode(p RawProp) (Value, error) {
	switch p.Tag.Type() {
	case PtI2:
		if err := expectLen(p, 2); err != nil {
			return nil, err
		}
		return IntValue(int16(binary.LittleEndian.Uint16(p.Data))), nil

	case PtLong:
		if err := expectLen(p, 4); err != nil {
			return nil, err
		}
		return IntValue(int32(binary.LittleEndian.Uint32(p.Data))), nil

	case PtI8:
		if err := expectLen(p, 8); err != nil {
			return nil, err
		}
		return IntValue(int64(binary.LittleEndian.Uint64(p.Data))), nil

	case PtBoolean:
		if err := expectLen(p, 2); err != nil {
			return nil, err
		}
		return BoolValue(binary.LittleEndian.Uint16(p.Data) != 0), nil

	case PtString8:
		return StringValue(trimNul8(p.Data)), nil

	case PtUnicode:
		s, err := DecodeUTF16(p.Data)
		if err != nil {
			return nil, err
		}
		return StringValue(s), nil

	case PtCLSID:
		if err := expectLen(p, 16); err != nil {
			return nil, err
		}
		return GuidValue(uuid.UUID(p.Data)), nil

	case PtSysTime:
		if err := expectLen(p, 8); err != nil {
			return nil, err
		}
		return DateTimeValue(FileTimeToTime(binary.LittleEndian.Uint64(p.Data))), nil

	case PtBinary:
		return BinaryValue(append([]byte(nil), p.Data...)), nil
	}

	return nil, nil
}

func expectLen(p RawProp, n int) error {
	if len(p.Data) != n {
		return fmt.Errorf("%w: tag %s has %d payload bytes, want %d", ErrInconsistent, p.Tag, len(p.Data), n)
	}
	return nil
}

func trimNul8(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// DecodeUTF16 converts UTF-16LE bytes to a UTF-8 string, dropping trailing NULs.
func DecodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: odd UTF-16 payload length %d", ErrInconsistent, len(b))
	}
	for len(b) >= 2 && b[len(b)-1] == 0 && b[len(b)-2] == 0 {
		b = b[:len(b)-2]
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode UTF-16: %w", err)
	}
	return string(out), nil
}

// EncodeUTF16 converts a UTF-8 string to UTF-16LE bytes without a terminator.
func EncodeUTF16(s string) []byte {
	out, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Invalid UTF-8 input; fall back to replacement-character encoding.
		units := utf16.Encode([]rune(s))
		out = make([]byte, 2*len(units))
		for i, u := range units {
			binary.LittleEndian.PutUint16(out[2*i:], u)
		}
	}
	return out
}

// FileTimeToTime converts a FILETIME tick count to UTC time.
func FileTimeToTime(ft uint64) time.Time {
	ticks := int64(ft) - fileTimeEpochDelta
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}

// TimeToFileTime converts a time to a FILETIME tick count.
func TimeToFileTime(t time.Time) uint64 {
	return uint64(t.Unix()*1e7+int64(t.Nanosecond()/100)) + fileTimeEpochDelta
}

// Encode builds the raw wire form of a value for the given property id. The
// wire type follows the value kind: integers are PT_LONG when they fit, PT_I8
// otherwise; strings are PT_UNICODE.
func Encode(id uint16, v Value) (RawProp, error) {
	switch v := v.(type) {
	case IntValue:
		if int64(v) >= -1<<31 && int64(v) < 1<<31 {
			return RawProp{Tag: PropTag(PtLong, id), Data: binary.LittleEndian.AppendUint32(nil, uint32(int32(v)))}, nil
		}
		return RawProp{Tag: PropTag(PtI8, id), Data: binary.LittleEndian.AppendUint64(nil, uint64(v))}, nil
	case BoolValue:
		var b uint16
		if v {
			b = 1
		}
		return RawProp{Tag: PropTag(PtBoolean, id), Data: binary.LittleEndian.AppendUint16(nil, b)}, nil
	case StringValue:
		return RawProp{Tag: PropTag(PtUnicode, id), Data: EncodeUTF16(string(v))}, nil
	case GuidValue:
		g := uuid.UUID(v)
		return RawProp{Tag: PropTag(PtCLSID, id), Data: append([]byte(nil), g[:]...)}, nil
	case DateTimeValue:
		return RawProp{Tag: PropTag(PtSysTime, id), Data: binary.LittleEndian.AppendUint64(nil, TimeToFileTime(v.Time()))}, nil
	case BinaryValue:
		return RawProp{Tag: PropTag(PtBinary, id), Data: append([]byte(nil), v...)}, nil
	}
	return RawProp{}, fmt.Errorf("cannot encode value of type %T", v)
}

// ErrorProp builds a PT_ERROR property carrying an SCODE.
func ErrorProp(id uint16, code uint32) RawProp {
	return RawProp{Tag: PropTag(PtError, id), Data: binary.LittleEndian.AppendUint32(nil, code)}
}
