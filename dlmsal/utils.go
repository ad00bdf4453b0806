package dlmsal

import (
	"bytes"
	"io"

	"github.com/gridmeter/dlms-go/base"
)

// berLengthOctets returns how many trailing octets a BER definite long-form
// length needs to hold n (0 if n fits the single-byte short form).
func berLengthOctets(n uint) int {
	switch {
	case n < 1<<8:
		return 1
	case n < 1<<16:
		return 2
	case n < 1<<24:
		return 3
	default:
		return 4
	}
}

// codedlength is the total encoded size (tag octet included for long form)
// of a BER definite length for len.
func codedlength(len uint) int {
	if len < 128 {
		return 1
	}
	return 1 + berLengthOctets(len)
}

// appendBERLength writes a BER definite length for n into dst (which must
// have room for codedlength(n) bytes) and returns how many bytes it used.
func appendBERLength(dst []byte, n uint) int {
	if n < 128 {
		dst[0] = byte(n)
		return 1
	}
	octets := berLengthOctets(n)
	dst[0] = 0x80 | byte(octets)
	for i := octets; i >= 1; i-- {
		dst[i] = byte(n)
		n >>= 8
	}
	return octets + 1
}

func encodelength(dst *bytes.Buffer, len uint) {
	var tmp [5]byte
	n := appendBERLength(tmp[:], len)
	dst.Write(tmp[:n])
}

func encodelength2(dst []byte, len uint) int {
	return appendBERLength(dst, len)
}

func encodetag(dst *bytes.Buffer, tag byte, data []byte) {
	dst.WriteByte(tag)
	encodelength(dst, uint(len(data)))
	dst.Write(data)
}

func encodetag2(dst *bytes.Buffer, tag byte, innertag byte, data []byte) {
	dst.WriteByte(tag)
	encodelength(dst, uint(len(data)+1+codedlength(uint(len(data)))))
	dst.WriteByte(innertag)
	encodelength(dst, uint(len(data)))
	dst.Write(data)
}

func decodelength(src io.Reader, tmp *tmpbuffer) (uint, int, error) {
	_, err := io.ReadFull(src, tmp[:1])
	if err != nil {
		return 0, 0, err
	}
	b := tmp[0]
	if b < 128 {
		return uint(b), 1, nil
	}
	if b == 128 {
		return 0, 0, base.NewParseError("BER indefinite-form length is not supported")
	}
	c := int(b & 0x7f)
	if c > 4 {
		return 0, 0, base.NewParseError("BER length needs %d octets, at most 4 supported", c)
	}
	_, err = io.ReadFull(src, tmp[:c])
	if err != nil {
		return 0, 0, err
	}
	r := uint(0)
	for i := range c {
		r = (r << 8) | uint(tmp[i])
	}
	return r, c + 1, nil
}

// decodetag splits one BER tag/length/value off the front of src, returning
// the tag byte, the total number of bytes it consumed, and the value.
func decodetag(src []byte, tmp *tmpbuffer) (byte, int, []byte, error) {
	if len(src) < 2 {
		return 0, 0, nil, base.NewParseError("decodetag: need at least 2 bytes, got %d", len(src))
	}
	if src[0] == byte(base.TagExceptionResponse) {
		if len(src) < 3 {
			return 0, 0, nil, base.NewParseError("decodetag: truncated exception response")
		}
		return 0, 0, nil, base.NewParseError("decodetag: exception response %d/%d", src[1], src[2])
	}

	tag := src[0]
	dlen, c, err := decodelength(bytes.NewReader(src[1:]), tmp)
	if err != nil {
		return 0, 0, nil, err
	}

	total := c + 1 + int(dlen)
	if len(src) < total {
		return 0, 0, nil, base.NewParseError("decodetag: declared length %d exceeds remaining %d bytes", dlen, len(src)-c-1)
	}
	return tag, total, src[1+c : total], nil
}

func newcopy(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

var _units = [...]string{"unknown",
	// 1
	"a",
	"mo",
	"wk",
	"d",
	"h",
	"min.",
	"s",
	"°",
	"°C",
	// 10
	"currency",
	"m",
	"m/s",
	"m³",
	"m³",
	"m³/h",
	"m³/h",
	"m³/d",
	"m³/d",
	"l",
	// 20
	"kg",
	"N",
	"Nm",
	"Pa",
	"bar",
	"J",
	"J/h",
	"W",
	"VA",
	"var",
	// 30
	"Wh",
	"VAh",
	"varh",
	"A",
	"C",
	"V",
	"V/m",
	"F",
	"Ω",
	"Ωm²/m",
	// 40
	"Wb",
	"T",
	"A/m",
	"H",
	"Hz",
	"1/(Wh)",
	"1/(varh)",
	"1/(VAh)",
	"V²h",
	"A²h",
	// 50
	"kg/s",
	"S",
	"K",
	"1/(V²h)",
	"1/(A²h)",
	"1/m³",
	"%",
	"Ah",
	"unknown",
	"unknown",
	// 60
	"Wh/m³",
	"J/m³",
	"Mol %",
	"g/m³",
	"Pa s",
	"J/kg",
	"g/cm²",
	"atm",
	"unknown",
	"unknown",
	// 70
	"dBm",
	"dbµV",
	"dB"}

func GetUnit(u uint8) string {
	if int(u) >= len(_units) {
		return _units[0]
	}
	return _units[u]
}
