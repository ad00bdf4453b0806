package base

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Stream is the transport abstraction every physical/transport layer
// (serial, TCP, HDLC-framed, ...) implements so the association layer can
// stay agnostic of what carries its octets.
type Stream interface {
	Open() error
	Disconnect() error // hard end of connection without solving any unassociation or so
	Read(p []byte) (int, error)
	Close() error
	SetLogger(logger *zap.SugaredLogger)
	SetDeadline(t time.Time)     // zero time means no deadline
	SetTimeout(t time.Duration)  // zero duration means no timeout
	SetMaxReceivedBytes(m int64) // every call resets current counter, exceeding bytes count means comm error, only incoming bytes are counted
	Write(src []byte) error      // always write everything
	GetRxTxBytes() (int64, int64)
}

const hexDumpWidth = 16

// LogHex renders b as a classic offset/hex/ASCII dump, prefixed with a
// label and byte count, suitable for dropping straight into a debug log
// line. It mirrors the layout `hexdump -C` uses minus the duplicate
// middle-column gap.
func LogHex(label string, b []byte) string {
	var out strings.Builder
	out.WriteString(label)
	out.WriteByte(' ')
	out.WriteByte('(')
	writeDecimal(&out, len(b))
	out.WriteString("):")

	for offset := 0; offset < len(b); offset += hexDumpWidth {
		end := offset + hexDumpWidth
		if end > len(b) {
			end = len(b)
		}
		out.WriteByte('\n')
		writeHexOffset(&out, offset)
		row := b[offset:end]
		for _, v := range row {
			out.WriteByte(' ')
			writeHexByte(&out, v)
		}
		for pad := len(row); pad < hexDumpWidth; pad++ {
			out.WriteString("   ")
		}
		out.WriteByte(' ')
		for _, v := range row {
			out.WriteByte(printableOrDot(v))
		}
	}
	return out.String()
}

const hexDigits = "0123456789ABCDEF"

func writeHexByte(out *strings.Builder, v byte) {
	out.WriteByte(hexDigits[v>>4])
	out.WriteByte(hexDigits[v&0xf])
}

func writeHexOffset(out *strings.Builder, offset int) {
	for shift := 28; shift >= 0; shift -= 4 {
		out.WriteByte(hexDigits[(offset>>uint(shift))&0xf])
	}
}

func writeDecimal(out *strings.Builder, n int) {
	if n == 0 {
		out.WriteByte('0')
		return
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	out.Write(digits[i:])
}

func printableOrDot(v byte) byte {
	if v >= 32 && v < 127 {
		return v
	}
	return '.'
}
