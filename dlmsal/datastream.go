package dlmsal

import (
	"io"

	"github.com/gridmeter/dlms-go/base"
	"go.uber.org/zap"
)

type streamItemType byte

const (
	StreamElementStart streamItemType = iota
	StreamElementEnd
	StreamElementData
)

type DlmsDataStreamItem struct {
	Type  streamItemType
	Count int
	Data  DlmsData
}

// DlmsDataStream walks a decoded APDU's data payload one element at a time
// instead of materializing the whole tree, so a GET response carrying a
// megabyte-sized profile-generic buffer doesn't need a matching allocation.
type DlmsDataStream interface {
	NextElement() (*DlmsDataStreamItem, error)
	Rewind() error
	Close() error
}

// frame tracks how many siblings remain to be read for one open
// array/structure, so NextElement knows when to emit its StreamElementEnd.
type frame struct {
	remaining int
	tag       dataTag
}

type datastream struct {
	src     io.Reader
	buffer  tmpbuffer
	frames  []frame
	failed  bool
	atEOF   bool
	logger  *zap.SugaredLogger
	buffered bool
	mem     ChunkedStream
}

func newDataStream(src io.Reader, buffered bool, logger *zap.SugaredLogger) (DlmsDataStream, error) {
	d := &datastream{
		frames:   []frame{{remaining: 1, tag: TagError}}, // sentinel root frame
		logger:   logger,
		buffered: buffered,
	}
	if buffered {
		d.mem = NewChunkedStream()
		if err := d.mem.CopyFrom(src); err != nil {
			return nil, err
		}
		d.src = d.mem
	} else {
		d.src = src
	}
	return d, nil
}

func (d *datastream) Rewind() error {
	if !d.buffered {
		return base.NewEncodeError("data stream: rewind requires a buffered stream")
	}
	d.mem.Rewind()
	d.frames = d.frames[:1]
	d.frames[0].remaining = 1
	d.atEOF = false
	return nil
}

func (d *datastream) top() *frame {
	return &d.frames[len(d.frames)-1]
}

func (d *datastream) popFrame() (*DlmsDataStreamItem, error) {
	closed := d.top().tag
	d.frames = d.frames[:len(d.frames)-1]
	if len(d.frames) == 0 { // the sentinel root frame closed: stream exhausted
		d.atEOF = true
		return nil, io.EOF
	}
	d.top().remaining--
	return &DlmsDataStreamItem{Type: StreamElementEnd, Data: DlmsData{Tag: closed}}, nil
}

func (d *datastream) NextElement() (*DlmsDataStreamItem, error) {
	if d.atEOF {
		return nil, io.EOF
	}
	if d.failed {
		return nil, base.NewParseError("data stream: already failed, cannot continue reading")
	}

	if d.top().remaining == 0 {
		return d.popFrame()
	}

	if _, err := io.ReadFull(d.src, d.buffer[:1]); err != nil {
		d.failed = true
		if err == io.EOF {
			return nil, base.NewParseError("data stream: unexpected eof reading element tag")
		}
		return nil, base.NewTransportError(err)
	}

	t := dataTag(d.buffer[0])
	if t == TagArray || t == TagStructure {
		return d.openFrame(t)
	}

	next, _, err := decodeData(d.src, t, &d.buffer)
	if err != nil {
		d.failed = true
		return nil, err
	}
	d.top().remaining--
	return &DlmsDataStreamItem{Type: StreamElementData, Data: next}, nil
}

// openFrame handles Array/Structure tags: these nest, so rather than
// decoding their children eagerly (and buffering an arbitrarily deep tree)
// we push a new frame and let the caller pull children one NextElement at
// a time.
func (d *datastream) openFrame(t dataTag) (*DlmsDataStreamItem, error) {
	count, _, err := decodelength(d.src, &d.buffer)
	if err != nil {
		d.failed = true
		return nil, err
	}
	d.frames = append(d.frames, frame{remaining: int(count), tag: t})
	return &DlmsDataStreamItem{Type: StreamElementStart, Count: int(count), Data: DlmsData{Tag: t}}, nil
}

// Close drains whatever the caller never consumed off the transport, so a
// partially-read response doesn't leave stray bytes for the next request's
// reply to trip over.
func (d *datastream) Close() error {
	if d.buffered || d.failed || d.atEOF {
		return nil
	}
	rb := d.buffer[:]
	total := 0
	for {
		n, err := d.src.Read(rb)
		total += n
		if err != nil {
			if err == io.EOF {
				if d.logger != nil {
					d.logger.Warnf("data stream drained %d trailing bytes", total)
				}
				return nil
			}
			return base.NewTransportError(err)
		}
		if n == 0 {
			return base.NewParseError("data stream: drain read returned no data and no error")
		}
		if len(rb) < 4096 { // grow once: the first reads are likely to be small leftover chunks
			rb = make([]byte, 4096)
		}
	}
}
