package comm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/notargets/gopatch/types"
)

// Messages are little endian. Float64 values travel bit-for-bit.

func AppendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func AppendUint64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func AppendFloat64s(b []byte, v []float64) []byte {
	for _, x := range v {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(x))
	}
	return b
}

// Reader walks a received message. The first short read sets Err and all
// later reads return zero values.
type Reader struct {
	buf []byte
	Err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) need(n int) bool {
	if r.Err != nil {
		return false
	}
	if len(r.buf) < n {
		r.Err = fmt.Errorf("%w: message truncated, need %d bytes, have %d",
			types.ErrProtocolInconsistency, n, len(r.buf))
		return false
	}
	return true
}

func (r *Reader) Uint32() (v uint32) {
	if r.need(4) {
		v = binary.LittleEndian.Uint32(r.buf)
		r.buf = r.buf[4:]
	}
	return
}

func (r *Reader) Uint64() (v uint64) {
	if r.need(8) {
		v = binary.LittleEndian.Uint64(r.buf)
		r.buf = r.buf[8:]
	}
	return
}

// Float64s fills v from the message.
func (r *Reader) Float64s(v []float64) {
	if !r.need(8 * len(v)) {
		return
	}
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(r.buf[8*i:]))
	}
	r.buf = r.buf[8*len(v):]
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) (b []byte) {
	if r.need(n) {
		b = r.buf[:n:n]
		r.buf = r.buf[n:]
	}
	return
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf)
}
