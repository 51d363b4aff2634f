package comm

import (
	"unsafe"
)

// AsBytes views the memory of s as bytes without copying. M must be a plain
// value type (no pointers, slices, maps or strings); the view aliases s.
func AsBytes[M any](s []M) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero M
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// SizeOf returns the in-memory size of one M in bytes
func SizeOf[M any]() int {
	var zero M
	return int(unsafe.Sizeof(zero))
}
