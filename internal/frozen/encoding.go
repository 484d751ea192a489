package frozen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// writeChunk appends a uint32 length prefix followed by b to buf.
func writeChunk(buf *bytes.Buffer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf.Write(length[:])
	buf.Write(b)
}

// readChunk reads one length-prefixed chunk from r.
func readChunk(r *bytes.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := r.Read(length[:]); err != nil {
		return nil, fmt.Errorf("read chunk length: %w", err)
	}
	n := binary.BigEndian.Uint32(length[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, fmt.Errorf("read chunk body: %w", err)
		}
	}
	return b, nil
}

func putFloat32(dst []byte, f float32) {
	binary.BigEndian.PutUint32(dst, math.Float32bits(f))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(src))
}
