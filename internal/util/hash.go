// Package util provides logging, relay statistics and small shared helpers.
package util

import (
	"fmt"
	"hash/fnv"
)

// RoomTag returns a short, stable identifier for a room id. Room ids are
// appointment tokens, so logs carry this tag instead of the raw value. The tag
// is for correlation only and is not reversible.
func RoomTag(room string) string {
	h := fnv.New32a()
	h.Write([]byte(room))
	return fmt.Sprintf("%08x", h.Sum32())
}
