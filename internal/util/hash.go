// Package util holds small helpers shared by the cache packages.
//revive:disable:var-naming
package util

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash64 hashes common key types with xxhash. Named string types
// (such as key.Key) are handled through fmt.Stringer.
// Unsupported key types panic so a poor hash is never chosen silently.
func Hash64[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)
	case []byte:
		return xxhash.Sum64(v)
	case fmt.Stringer:
		return xxhash.Sum64String(v.String())
	case int:
		return hashUint64(uint64(v))
	case int64:
		return hashUint64(uint64(v))
	case int32:
		return hashUint64(uint64(uint32(v)))
	case uint:
		return hashUint64(uint64(v))
	case uint64:
		return hashUint64(v)
	case uint32:
		return hashUint64(uint64(v))
	default:
		panic(fmt.Sprintf("util.Hash64: unsupported key type %T; supply Options.Hash", k))
	}
}

func hashUint64(u uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], u)
	return xxhash.Sum64(b[:])
}
