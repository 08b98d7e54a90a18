package compute

import "unsafe"

// Element is a type that can live in a device buffer.
type Element interface {
	~float32 | ~int32
}

// AsBytes reinterprets s as its underlying bytes without copying.
func AsBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// SizeOf is the element size of T in bytes.
func SizeOf[T Element]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Alloc allocates n elements of T on dev, copying src in when it is not nil.
func Alloc[T Element](dev Memory, n int, src []T) Buffer {
	return dev.Allocate(n*SizeOf[T](), AsBytes(src))
}

// ReadInto copies the first len(dst) elements of buf into dst.
func ReadInto[T Element](dev Memory, buf Buffer, dst []T) {
	if len(dst) == 0 {
		return
	}
	dev.Read(buf, AsBytes(dst))
}

// WriteFrom copies src into the first len(src) elements of buf.
func WriteFrom[T Element](dev Memory, src []T, buf Buffer) {
	if len(src) == 0 {
		return
	}
	dev.Write(AsBytes(src), buf)
}

// CopyN copies n elements of T from src to dst on the device.
func CopyN[T Element](dev Memory, src, dst Buffer, n int) {
	if n == 0 {
		return
	}
	dev.Copy(src, dst, n*SizeOf[T]())
}

// Int32s converts host ints to the int32 form index buffers use on device.
func Int32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
