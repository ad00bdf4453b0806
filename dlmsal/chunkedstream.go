package dlmsal

import (
	"errors"
	"io"

	"github.com/gridmeter/dlms-go/base"
)

// chunkSize bounds each backing buffer so a long-lived ChunkedStream never
// needs to move already-written bytes around to grow.
const chunkSize = 8192

// ChunkedStream is an append-only byte buffer that also supports rewinding
// and re-reading from the start, used to hold an entire in-memory APDU body
// (profile-generic buffers, captured block-transfer payloads, ...) without
// a single contiguous allocation.
type ChunkedStream interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	CopyFrom(src io.Reader) (err error)
	Rewind()
}

type chunkedstream struct {
	chunks  [][]byte // len(chunk) is the written extent, cap(chunk) == chunkSize
	readAt  int      // chunk index
	readOff int      // offset within chunks[readAt]
}

func NewChunkedStream() ChunkedStream {
	return &chunkedstream{chunks: [][]byte{make([]byte, 0, chunkSize)}}
}

func (d *chunkedstream) Rewind() {
	d.readAt = 0
	d.readOff = 0
}

func (d *chunkedstream) lastChunk() []byte {
	return d.chunks[len(d.chunks)-1]
}

func (d *chunkedstream) growIfFull() {
	if len(d.lastChunk()) == chunkSize {
		d.chunks = append(d.chunks, make([]byte, 0, chunkSize))
	}
}

// CopyFrom drains src to EOF, appending everything it yields.
func (d *chunkedstream) CopyFrom(src io.Reader) error {
	for {
		d.growIfFull()
		last := d.lastChunk()
		room := last[len(last):cap(last)]
		n, err := src.Read(room)
		if n > 0 {
			d.chunks[len(d.chunks)-1] = last[:len(last)+n]
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return base.NewTransportError(err)
		}
		if n == 0 {
			return base.NewParseError("chunked stream: reader returned no data and no error")
		}
	}
}

// Write always consumes all of p, growing new chunks as needed.
func (d *chunkedstream) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		d.growIfFull()
		last := d.lastChunk()
		room := cap(last) - len(last)
		n := copy(last[len(last):cap(last)], p[:min(room, len(p))])
		d.chunks[len(d.chunks)-1] = last[:len(last)+n]
		p = p[n:]
	}
	return total, nil
}

func (d *chunkedstream) Read(p []byte) (int, error) {
	for {
		if d.readAt >= len(d.chunks) {
			return 0, io.EOF
		}
		cur := d.chunks[d.readAt]
		if d.readOff == len(cur) {
			d.readAt++
			d.readOff = 0
			continue
		}
		n := copy(p, cur[d.readOff:])
		d.readOff += n
		return n, nil
	}
}
