package byteorder

import (
	"encoding/binary"
	"math"
)

// The match protocol is little-endian throughout (it mirrors the memory
// layout of the game client, not network byte order).

func PutU32(val uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, val)
	return buf
}

func U32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func PutI32(val int32) []byte {
	return PutU32(uint32(val))
}

func I32(buf []byte) int32 {
	return int32(U32(buf))
}

func PutF32(val float32) []byte {
	return PutU32(math.Float32bits(val))
}

func F32(buf []byte) float32 {
	return math.Float32frombits(U32(buf))
}
