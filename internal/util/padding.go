package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is the padding unit used to keep hot counters apart.
const CacheLineSize = 64

// PaddedCounter is an atomic int64 occupying a full cache line so that
// counters of neighbouring shards do not false-share.
type PaddedCounter struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

var _ [CacheLineSize - int(unsafe.Sizeof(PaddedCounter{}))]byte

// CacheLinePad separates groups of hot fields inside a struct.
type CacheLinePad struct{ _ [CacheLineSize]byte }
