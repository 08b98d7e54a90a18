// Package weights reads the positional parameter stream a network loads its
// filters, weights and biases from.
//
// A weight file is a bare little-endian array of float32 or float16 values
// with no header; layers consume it in declaration order, each taking the
// element counts its last Reshape computed.
package weights

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/x448/float16"
	"golang.org/x/sys/unix"
)

var (
	ErrCorruptFile = errors.New("weights: file size is not a whole number of values")
	ErrShort       = errors.New("weights: stream exhausted")
)

// DType is the on-disk element encoding.
type DType int

const (
	F32 DType = iota
	F16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size is the encoded size of one value.
func (d DType) Size() int {
	if d == F16 {
		return 2
	}
	return 4
}

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "fp32", "float32":
		return F32, nil
	case "f16", "fp16", "float16", "half":
		return F16, nil
	default:
		return 0, fmt.Errorf("unknown weight dtype %q (expected f32 or f16)", s)
	}
}

// Stream yields parameter values in load order.
type Stream interface {
	// Next returns the next n values. Fewer than n remaining is ErrShort.
	Next(n int) ([]float32, error)
	// Remaining is the number of values not yet consumed.
	Remaining() int
}

// File is a Stream over a mapped (or, where mmap fails, fully read) weight
// file. It must be closed to release the mapping.
type File struct {
	data    []byte
	dtype   DType
	pos     int
	mmapped bool
}

// Open maps path read-only.
func Open(path string, dtype DType) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size%dtype.Size() != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes for %s", ErrCorruptFile, path, size, dtype)
	}
	if size == 0 {
		return &File{dtype: dtype}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &File{data: data, dtype: dtype, mmapped: true}, nil
	}

	data = make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &File{data: data, dtype: dtype}, nil
}

func (f *File) DType() DType { return f.dtype }

func (f *File) Remaining() int {
	return (len(f.data) - f.pos) / f.dtype.Size()
}

func (f *File) Next(n int) ([]float32, error) {
	if n < 0 || n > f.Remaining() {
		return nil, fmt.Errorf("%w: need %d values, %d left", ErrShort, n, f.Remaining())
	}
	out := make([]float32, n)
	src := f.data[f.pos:]
	switch f.dtype {
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(src[2*i:])).Float32()
		}
	default:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
	}
	f.pos += n * f.dtype.Size()
	return out, nil
}

func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

// Slice is an in-memory Stream.
type Slice struct {
	data []float32
	pos  int
}

func FromSlice(data []float32) *Slice {
	return &Slice{data: data}
}

func (s *Slice) Remaining() int { return len(s.data) - s.pos }

func (s *Slice) Next(n int) ([]float32, error) {
	if n < 0 || n > s.Remaining() {
		return nil, fmt.Errorf("%w: need %d values, %d left", ErrShort, n, s.Remaining())
	}
	out := s.data[s.pos : s.pos+n : s.pos+n]
	s.pos += n
	return out, nil
}

// Encode writes values in the given encoding. Values that do not fit in
// float16 are rounded to the nearest representable value.
func Encode(w io.Writer, dtype DType, values []float32) error {
	buf := make([]byte, len(values)*dtype.Size())
	for i, v := range values {
		if dtype == F16 {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
		} else {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
	}
	_, err := w.Write(buf)
	return err
}
