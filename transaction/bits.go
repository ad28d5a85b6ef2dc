package transaction

type bitWriter struct {
	buf []byte
	pos int
}

func newBitWriter(size int) *bitWriter {
	return &bitWriter{buf: make([]byte, size)}
}

// write appends the low n bits of v, most significant first
func (w *bitWriter) write(v uint64, n uint8) {
	for i := int(n) - 1; i >= 0; i-- {
		if v>>uint(i)&1 == 1 {
			w.buf[w.pos/8] |= 0x80 >> uint(w.pos%8)
		}
		w.pos++
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}

type bitReader struct {
	buf []byte
	pos int
}

func newBitReader(buf []byte) *bitReader {
	return &bitReader{buf: buf}
}

func (r *bitReader) read(n uint8) uint64 {
	var v uint64
	for i := 0; i < int(n); i++ {
		bit := r.buf[r.pos/8] >> uint(7-r.pos%8) & 1
		v = v<<1 | uint64(bit)
		r.pos++
	}
	return v
}
