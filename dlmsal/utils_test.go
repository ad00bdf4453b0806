package dlmsal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLengthMinimalEncoding(t *testing.T) {
	cases := []struct {
		length uint
		want   []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x80}},
		{255, []byte{0x81, 0xff}},
		{256, []byte{0x82, 0x01, 0x00}},
		{65535, []byte{0x82, 0xff, 0xff}},
		{65536, []byte{0x83, 0x01, 0x00, 0x00}},
		{16777215, []byte{0x83, 0xff, 0xff, 0xff}},
		{16777216, []byte{0x84, 0x01, 0x00, 0x00, 0x00}},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		encodelength(&buf, c.length)
		assert.Equal(t, c.want, buf.Bytes(), "length %d", c.length)
		assert.Equal(t, codedlength(c.length), buf.Len(), "codedlength mismatch for %d", c.length)
	}
}

func TestEncodeDecodeLengthRoundTrip(t *testing.T) {
	lengths := []uint{0, 1, 127, 128, 200, 255, 256, 1000, 65535, 65536, 1 << 20}
	for _, l := range lengths {
		var buf bytes.Buffer
		encodelength(&buf, l)
		var tmp tmpbuffer
		got, c, err := decodelength(&buf, &tmp)
		require.NoError(t, err)
		assert.Equal(t, l, got)
		assert.Equal(t, codedlength(l), c)
	}
}

func TestEncodeLength2MatchesEncodeLength(t *testing.T) {
	lengths := []uint{0, 127, 128, 255, 256, 65535, 65536, 16777216}
	for _, l := range lengths {
		var buf bytes.Buffer
		encodelength(&buf, l)

		dst := make([]byte, 8)
		n := encodelength2(dst, l)
		assert.Equal(t, buf.Bytes(), dst[:n])
	}
}

func TestDecodeTagRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	encodetag(&buf, 0xC4, []byte{1, 2, 3, 4, 5})

	var tmp tmpbuffer
	tag, c, data, err := decodetag(buf.Bytes(), &tmp)
	require.NoError(t, err)
	assert.Equal(t, byte(0xC4), tag)
	assert.Equal(t, buf.Len(), c)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, data)
}

func TestDecodeTagExceptionResponse(t *testing.T) {
	var tmp tmpbuffer
	src := []byte{0xD8, 1, 2}
	_, _, _, err := decodetag(src, &tmp)
	assert.Error(t, err)
}

func TestDecodeTagTruncated(t *testing.T) {
	var tmp tmpbuffer
	src := []byte{0xC4, 0x05, 1, 2} // says 5 bytes follow, only 2 present
	_, _, _, err := decodetag(src, &tmp)
	assert.Error(t, err)
}

func TestDecodeLengthInfiniteUnsupported(t *testing.T) {
	var tmp tmpbuffer
	_, _, err := decodelength(bytes.NewReader([]byte{0x80}), &tmp)
	assert.Error(t, err)
}

func TestGetUnitKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "W", GetUnit(27))
	assert.Equal(t, "unknown", GetUnit(0))
	assert.Equal(t, "unknown", GetUnit(255))
}
