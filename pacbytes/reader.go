// Package pacbytes provides stateless reader helpers over an immutable byte
// buffer: little/big-endian integers, IEEE-754 floats, and null-terminated
// strings, including Shift-JIS decoding. There is no reader for
// length-prefixed strings.
package pacbytes

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ErrOutOfRange is wrapped into every reader error that ran past the end of
// the buffer.
var ErrOutOfRange = errors.New("pacbytes: read past end of buffer")

// ReadUint32LE reads an unsigned 32-bit little-endian integer at offset.
func ReadUint32LE(data []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(data) {
		return 0, errors.Wrapf(ErrOutOfRange, "ReadUint32LE at 0x%06X", offset)
	}
	return uint32(data[offset]) | uint32(data[offset+1])<<8 |
		uint32(data[offset+2])<<16 | uint32(data[offset+3])<<24, nil
}

// ReadUint32BE reads an unsigned 32-bit big-endian integer at offset. Used
// to read instruction signatures, which are stored big-endian.
func ReadUint32BE(data []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(data) {
		return 0, errors.Wrapf(ErrOutOfRange, "ReadUint32BE at 0x%06X", offset)
	}
	return uint32(data[offset])<<24 | uint32(data[offset+1])<<16 |
		uint32(data[offset+2])<<8 | uint32(data[offset+3]), nil
}

// ReadUint16LE reads an unsigned 16-bit little-endian integer at offset.
func ReadUint16LE(data []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(data) {
		return 0, errors.Wrapf(ErrOutOfRange, "ReadUint16LE at 0x%06X", offset)
	}
	return uint16(data[offset]) | uint16(data[offset+1])<<8, nil
}

// ReadCustomUint reads a little-endian integer of the given byte width
// (1-4 bytes).
func ReadCustomUint(data []byte, offset, size int) (uint32, error) {
	if size < 1 || size > 4 {
		return 0, errors.Errorf("pacbytes: unsupported int width %d", size)
	}
	if offset < 0 || offset+size > len(data) {
		return 0, errors.Wrapf(ErrOutOfRange, "ReadCustomUint at 0x%06X width %d", offset, size)
	}
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(data[offset+i])
	}
	return v, nil
}

// ReadFloat32LE reads an IEEE-754 single-precision float at offset.
func ReadFloat32LE(data []byte, offset int) (float32, error) {
	bits, err := ReadUint32LE(data, offset)
	if err != nil {
		return 0, errors.Wrap(err, "ReadFloat32LE")
	}
	return math.Float32frombits(bits), nil
}

// ReadCString reads a null-terminated ASCII/UTF-8 string starting at offset.
// Returns the string (excluding the terminator) and the number of bytes
// consumed including the terminator.
func ReadCString(data []byte, offset int) (string, int, error) {
	start := offset
	for offset < len(data) && data[offset] != 0 {
		offset++
	}
	if offset >= len(data) {
		return "", 0, errors.Wrapf(ErrOutOfRange, "ReadCString at 0x%06X: missing terminator", start)
	}
	return string(data[start:offset]), offset - start + 1, nil
}

// ReadShiftJISCString reads a null-terminated Shift-JIS string starting at
// offset, as required for PAC string arguments. Returns the decoded string
// and the number of raw bytes consumed including the terminator.
func ReadShiftJISCString(data []byte, offset int) (string, int, error) {
	start := offset
	for offset < len(data) && data[offset] != 0 {
		offset++
	}
	if offset >= len(data) {
		return "", 0, errors.Wrapf(ErrOutOfRange, "ReadShiftJISCString at 0x%06X: missing terminator", start)
	}
	raw := data[start:offset]
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		return "", 0, errors.Wrapf(err, "shift-jis decode at 0x%06X", start)
	}
	return string(decoded), offset - start + 1, nil
}

// TryDecodeShiftJIS attempts to decode an arbitrary byte slice as Shift-JIS,
// used by the entity decoder's raw-memory fallback: on failure the caller
// falls back to a hex dump rather than propagating the error.
func TryDecodeShiftJIS(raw []byte) (string, bool) {
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// AlignUp4 rounds offset up to the next multiple of 4.
func AlignUp4(offset int) int {
	if rem := offset % 4; rem != 0 {
		return offset + (4 - rem)
	}
	return offset
}

// BinarySearch is the lower-bound search used throughout the block and CFG
// packages: if array contains val, returns its index; if val exceeds every
// element, returns the last index; if array[i] < val < array[i+1], returns
// i; if val is smaller than every element, returns -1.
func BinarySearch(array []int, val int) int {
	lo, hi := -1, len(array)
	for hi-lo > 1 {
		mid := (hi + lo) / 2
		if array[mid] < val {
			lo = mid
		} else {
			hi = mid
		}
	}
	if hi == len(array) {
		return lo
	}
	if array[hi] == val {
		return hi
	}
	return lo
}

// InBetweenSearch reports whether val is present in array and, if not, the
// index i such that array[i] < val < array[i+1]. val must lie within
// [array[0], array[len(array)-1]].
func InBetweenSearch(array []int, val int) (found bool, index int) {
	lo, hi := -1, len(array)
	for hi-lo > 1 {
		mid := (hi + lo) / 2
		if array[mid] < val {
			lo = mid
		} else {
			hi = mid
		}
	}
	if array[hi] == val {
		return true, hi
	}
	return false, lo
}
