package dlmsal

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"

	"github.com/gridmeter/dlms-go/base"
)

// buildSignedData assembles the general-signing PDU up to its signature: the
// tag byte, then the part that gets hashed/signed (a random 3-byte
// transaction-id, origin/recipient system titles, no date-time/other-info,
// then the content to protect).
func buildSignedData(origin, recipient, content []byte) *bytes.Buffer {
	var transid [3]byte
	_, _ = rand.Read(transid[:])

	var buf bytes.Buffer
	buf.WriteByte(byte(base.TagGeneralSigning))
	encodelength(&buf, uint(len(transid)))
	buf.Write(transid[:])
	encodelength(&buf, uint(len(origin)))
	buf.Write(origin)
	encodelength(&buf, uint(len(recipient)))
	buf.Write(recipient)
	buf.WriteByte(0) // no datetime
	buf.WriteByte(0) // no other information
	encodelength(&buf, uint(len(content)))
	buf.Write(content)
	return &buf
}

// hashForCurve picks the digest algorithm ECDSA suite 1/2 mandates for a
// given curve's bit size: SHA-256 for P-256, SHA-384 for P-384.
func hashForCurve(bitSize int, data []byte) ([]byte, error) {
	switch bitSize {
	case 256:
		h := sha256.Sum256(data)
		return h[:], nil
	case 384:
		h := sha512.Sum384(data)
		return h[:], nil
	default:
		return nil, base.NewEncodeError("ecdsa: unsupported curve bit size %d", bitSize)
	}
}

// ecdsasign returns a complete general-signing PDU: tag, signet body, and
// the raw (r || s) ECDSA signature over it.
func ecdsasign(origin, recipient, content []byte, privkey *ecdsa.PrivateKey) ([]byte, error) {
	pdu := buildSignedData(origin, recipient, content)
	hash, err := hashForCurve(privkey.Curve.Params().BitSize, pdu.Bytes()[1:])
	if err != nil {
		return nil, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, privkey, hash)
	if err != nil {
		return nil, err
	}
	pdu.Write(r.Bytes())
	pdu.Write(s.Bytes())
	return pdu.Bytes(), nil
}
