// Package ciphering implements the AES-128/256-GCM envelopes and
// per-mechanism authentication hash/verify used by GLO/DED/general
// ciphering and by high-level association authentication.
package ciphering

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"io"
	"math/big"
	"slices"

	"github.com/gridmeter/dlms-go/base"
)

const (
	// GCM_TAG_LENGTH is the fixed AES-GCM authentication tag length used
	// throughout DLMS/COSEM ciphering: a 96-bit (12-byte) tag; the full
	// 128-bit GCM tag is never carried.
	GCM_TAG_LENGTH = 12
)

// Ciphering is the per-direction AES-GCM engine bound to a single set of
// keys and system titles. One instance serves either the global ciphering
// key or the dedicated key, never both.
type Ciphering interface {
	Setup(systemTitleServer []byte, sToC []byte) error
	Encrypt(ret []byte, sc byte, fc uint32, apdu []byte) ([]byte, error)
	Decrypt(ret []byte, sc byte, fc uint32, apdu []byte) ([]byte, error)
	Encrypt2(ret []byte, scControl byte, scContent byte, fc uint32, apdu []byte) ([]byte, error)
	Decrypt2(ret []byte, scControl byte, scContent byte, fc uint32, apdu []byte) ([]byte, error)
	GetDecryptorStream(sc byte, fc uint32, apdu io.Reader) (io.Reader, error)
	GetDecryptorStream2(scControl byte, scContent byte, fc uint32, apdu io.Reader) (io.Reader, error)
	GetEncryptLength(scControl byte, apdu []byte) (int, error)
	// Hash computes the client-side authentication value sent in AARQ's
	// calling-authentication-value for the configured mechanism.
	Hash(sc byte, fc uint32) ([]byte, error)
	// Verify checks the server's responding-authentication-value from
	// AARE (or the server's own challenge response) against hash.
	Verify(sc byte, fc uint32, hash []byte) (bool, error)
}

// CipheringSettings configures a Ciphering instance. EncryptionKey and
// AuthenticationKey are required for the GMAC/SHA-256/ECDSA mechanisms;
// Password is required for Low/HighMD5/HighSHA1/HighSHA256.
type CipheringSettings struct {
	AuthenticationMechanismId base.Authentication
	EncryptionKey             []byte
	AuthenticationKey         []byte
	Password                  []byte
	ClientTitle               []byte
	CtoS                      []byte
	ClientPrivateKey          *ecdsa.PrivateKey
	ServerCertificate         *x509.Certificate
}

func (s *CipheringSettings) Validate() error {
	switch s.AuthenticationMechanismId {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
		if len(s.EncryptionKey) != 16 && len(s.EncryptionKey) != 32 {
			return base.NewEncodeError("ciphering: encryption key must be 16 or 32 bytes")
		}
		if len(s.AuthenticationKey) == 0 {
			return base.NewEncodeError("ciphering: authentication key required for mechanism %v", s.AuthenticationMechanismId)
		}
	}
	if len(s.ClientTitle) != 8 {
		return base.NewEncodeError("ciphering: client system title must be 8 bytes")
	}
	if s.AuthenticationMechanismId == base.AuthenticationHighEcdsa && s.ClientPrivateKey == nil {
		return base.NewEncodeError("ciphering: ecdsa mechanism requires a client private key")
	}
	return nil
}

type gcmCipher struct {
	nist cipher.AEAD
	aad  []byte
	iv   [12]byte

	password     []byte
	systemtitleC []byte
	systemtitleS []byte
	stoc         []byte
	ctos         []byte

	authenticationMechanismId base.Authentication
	clientPrivateKey          *ecdsa.PrivateKey
	serverCertificate         *x509.Certificate
}

// New builds the AES-GCM engine for settings. Only the software ("nist",
// crypto/cipher-backed) suite is supported; a hardware/KMS-backed variant
// is out of scope for this module.
func New(settings *CipheringSettings) (Ciphering, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	ret := &gcmCipher{
		authenticationMechanismId: settings.AuthenticationMechanismId,
		clientPrivateKey:          settings.ClientPrivateKey,
		serverCertificate:         settings.ServerCertificate,
		systemtitleC:              slices.Clone(settings.ClientTitle),
		ctos:                      slices.Clone(settings.CtoS),
		password:                  slices.Clone(settings.Password),
	}

	switch ret.authenticationMechanismId {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
		ret.aad = make([]byte, 1+len(settings.AuthenticationKey))
		cr, err := aes.NewCipher(settings.EncryptionKey)
		if err != nil {
			return nil, err
		}
		enc, err := cipher.NewGCMWithTagSize(cr, GCM_TAG_LENGTH)
		if err != nil {
			return nil, err
		}
		ret.nist = enc
		copy(ret.aad[1:], settings.AuthenticationKey)
	}

	return ret, nil
}

func (g *gcmCipher) Setup(systemtitleS []byte, stoc []byte) error {
	if len(systemtitleS) != 8 {
		return base.NewEncodeError("ciphering: server system title must be 8 bytes")
	}
	g.systemtitleS = slices.Clone(systemtitleS)
	g.stoc = slices.Clone(stoc)
	return nil
}

func (g *gcmCipher) Decrypt(ret []byte, sc byte, fc uint32, apdu []byte) ([]byte, error) {
	return g.Decrypt2(ret, sc, sc, fc, apdu)
}

func (g *gcmCipher) Encrypt(ret []byte, sc byte, fc uint32, apdu []byte) ([]byte, error) {
	return g.encryptinternal(ret, sc, sc, fc, g.systemtitleC, apdu)
}

func (g *gcmCipher) Hash(sc byte, fc uint32) ([]byte, error) {
	var hashbuf bytes.Buffer
	switch g.authenticationMechanismId {
	case base.AuthenticationLow:
		return slices.Clone(g.password), nil
	case base.AuthenticationHighMD5:
		hashbuf.Write(g.systemtitleS)
		hashbuf.Write(g.password)
		h := md5.Sum(hashbuf.Bytes())
		return h[:], nil
	case base.AuthenticationHighSHA1:
		hashbuf.Write(g.systemtitleS)
		hashbuf.Write(g.password)
		h := sha1.Sum(hashbuf.Bytes())
		return h[:], nil
	case base.AuthenticationHighGmac:
		e, err := g.encryptinternal(nil, sc, sc, fc, g.systemtitleC, g.stoc)
		if err != nil {
			return nil, err
		}
		if len(e) < GCM_TAG_LENGTH {
			return nil, base.NewParseError("ciphering: encrypted data too short")
		}
		return e[len(e)-GCM_TAG_LENGTH:], nil
	case base.AuthenticationHighSha256:
		hashbuf.Write(g.password)
		hashbuf.Write(g.systemtitleC)
		hashbuf.Write(g.systemtitleS)
		hashbuf.Write(g.stoc)
		hashbuf.Write(g.ctos)
		h := sha256.Sum256(hashbuf.Bytes())
		return h[:], nil
	case base.AuthenticationHighEcdsa:
		if g.clientPrivateKey == nil {
			return nil, base.NewEncodeError("ciphering: ecdsa private key not set")
		}
		hashbuf.Write(g.systemtitleC)
		hashbuf.Write(g.systemtitleS)
		hashbuf.Write(g.stoc)
		hashbuf.Write(g.ctos)
		hashdata, err := curveHash(g.clientPrivateKey.Curve.Params().BitSize, hashbuf.Bytes())
		if err != nil {
			return nil, err
		}
		r, s, err := ecdsa.Sign(rand.Reader, g.clientPrivateKey, hashdata)
		if err != nil {
			return nil, base.NewEncodeError("ciphering: unable to sign with ecdsa: %w", err)
		}
		hashbuf.Reset()
		hashbuf.Write(r.Bytes())
		hashbuf.Write(s.Bytes())
		return hashbuf.Bytes(), nil
	}
	return nil, base.NewParseError("ciphering: unsupported authentication mechanism: %v", g.authenticationMechanismId)
}

func (g *gcmCipher) Verify(sc byte, fc uint32, hash []byte) (bool, error) {
	var hashbuf bytes.Buffer
	switch g.authenticationMechanismId {
	case base.AuthenticationLow:
		return bytes.Equal(hash, g.password), nil
	case base.AuthenticationHighMD5:
		hashbuf.Write(g.ctos)
		hashbuf.Write(g.password)
		h := md5.Sum(hashbuf.Bytes())
		return bytes.Equal(hash, h[:]), nil
	case base.AuthenticationHighSHA1:
		hashbuf.Write(g.ctos)
		hashbuf.Write(g.password)
		h := sha1.Sum(hashbuf.Bytes())
		return bytes.Equal(hash, h[:]), nil
	case base.AuthenticationHighGmac:
		e, err := g.encryptinternal(nil, sc, sc, fc, g.systemtitleS, g.ctos)
		if err != nil {
			return false, err
		}
		if len(e) < GCM_TAG_LENGTH {
			return false, base.NewParseError("ciphering: encrypted data too short")
		}
		return bytes.Equal(e[len(e)-GCM_TAG_LENGTH:], hash), nil
	case base.AuthenticationHighSha256:
		hashbuf.Write(g.password)
		hashbuf.Write(g.systemtitleS)
		hashbuf.Write(g.systemtitleC)
		hashbuf.Write(g.ctos)
		hashbuf.Write(g.stoc)
		h := sha256.Sum256(hashbuf.Bytes())
		return bytes.Equal(hash, h[:]), nil
	case base.AuthenticationHighEcdsa:
		if g.serverCertificate == nil {
			return false, base.NewEncodeError("ciphering: ecdsa server certificate not set")
		}
		if len(hash) == 0 || len(hash)&1 != 0 {
			return false, base.NewParseError("ciphering: invalid ecdsa authmech response length")
		}
		pubkey, ok := g.serverCertificate.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return false, base.NewEncodeError("ciphering: invalid ecdsa server certificate")
		}
		hashbuf.Write(g.systemtitleS)
		hashbuf.Write(g.systemtitleC)
		hashbuf.Write(g.ctos)
		hashbuf.Write(g.stoc)
		hashdata, err := curveHash(pubkey.Curve.Params().BitSize, hashbuf.Bytes())
		if err != nil {
			return false, err
		}
		var r, s big.Int
		r.SetBytes(hash[:len(hash)/2])
		s.SetBytes(hash[len(hash)/2:])
		return ecdsa.Verify(pubkey, hashdata, &r, &s), nil
	}
	return false, base.NewParseError("ciphering: unsupported authentication mechanism: %v", g.authenticationMechanismId)
}

func curveHash(bits int, data []byte) ([]byte, error) {
	switch bits {
	case 256:
		h := sha256.Sum256(data)
		return h[:], nil
	case 384:
		h := sha512.Sum384(data)
		return h[:], nil
	default:
		return nil, base.NewParseError("ciphering: unsupported curve bit size %v", bits)
	}
}

func (g *gcmCipher) Decrypt2(ret []byte, scControl byte, scContent byte, fc uint32, apdu []byte) ([]byte, error) {
	if apdu == nil {
		return nil, base.NewEncodeError("ciphering: apdu is nil")
	}
	switch g.authenticationMechanismId {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
	default:
		if ret != nil && cap(ret) >= len(apdu) {
			ret = ret[:len(apdu)]
		} else {
			ret = make([]byte, len(apdu))
		}
		copy(ret, apdu)
		return ret, nil
	}

	copy(g.iv[:], g.systemtitleS)
	binary.BigEndian.PutUint32(g.iv[8:], fc)
	switch scControl & 0x30 {
	case 0x10:
		if len(apdu) < GCM_TAG_LENGTH {
			return nil, base.NewParseError("ciphering: too short ciphered data, no space for tag")
		}
		aad := make([]byte, len(g.aad)+len(apdu)-GCM_TAG_LENGTH)
		aad[0] = scContent
		copy(aad[1:], g.aad[1:])
		copy(aad[len(g.aad):], apdu[:len(apdu)-GCM_TAG_LENGTH])
		if _, err := g.nist.Open(nil, g.iv[:], apdu[len(apdu)-GCM_TAG_LENGTH:], aad); err != nil {
			return nil, err
		}
		if cap(ret) >= len(apdu)-GCM_TAG_LENGTH {
			return append(ret[:0], apdu[:len(apdu)-GCM_TAG_LENGTH]...), nil
		}
		return slices.Clone(apdu[:len(apdu)-GCM_TAG_LENGTH]), nil
	case 0x20:
		// encryption without authentication: AAD carries only the
		// security-control byte, no authentication key material.
		if len(apdu) < GCM_TAG_LENGTH {
			return nil, base.NewParseError("ciphering: too short ciphered data, no space for tag")
		}
		return g.nist.Open(ret[:0], g.iv[:], apdu, []byte{scContent})
	case 0x30:
		if len(apdu) < GCM_TAG_LENGTH {
			return nil, base.NewParseError("ciphering: too short ciphered data, no space for tag")
		}
		g.aad[0] = scContent
		return g.nist.Open(ret[:0], g.iv[:], apdu, g.aad)
	default:
		return nil, base.NewParseError("ciphering: scControl %02X not supported", scControl)
	}
}

func (g *gcmCipher) Encrypt2(ret []byte, scControl byte, scContent byte, fc uint32, apdu []byte) ([]byte, error) {
	return g.encryptinternal(ret, scControl, scContent, fc, g.systemtitleC, apdu)
}

func (g *gcmCipher) encryptinternal(ret []byte, scControl byte, scContent byte, fc uint32, title []byte, apdu []byte) ([]byte, error) {
	if apdu == nil {
		return nil, base.NewEncodeError("ciphering: apdu is nil")
	}
	switch g.authenticationMechanismId {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
	default:
		if ret != nil && cap(ret) >= len(apdu) {
			ret = ret[:len(apdu)]
		} else {
			ret = make([]byte, len(apdu))
		}
		copy(ret, apdu)
		return ret, nil
	}

	copy(g.iv[:], title)
	binary.BigEndian.PutUint32(g.iv[8:], fc)
	switch scControl & 0x30 {
	case 0x10:
		aad := make([]byte, len(g.aad)+len(apdu))
		aad[0] = scContent
		copy(aad[1:], g.aad[1:])
		copy(aad[len(g.aad):], apdu)
		tag := g.nist.Seal(nil, g.iv[:], nil, aad)
		ret = append(ret[:0], apdu...)
		ret = append(ret, tag...)
		return ret, nil
	case 0x20:
		// encryption without authentication: AAD carries only the
		// security-control byte, no authentication key material.
		return g.nist.Seal(ret[:0], g.iv[:], apdu, []byte{scContent}), nil
	case 0x30:
		g.aad[0] = scContent
		return g.nist.Seal(ret[:0], g.iv[:], apdu, g.aad), nil
	default:
		return nil, base.NewParseError("ciphering: unsupported security control byte: %v", scControl)
	}
}

func (g *gcmCipher) GetDecryptorStream(sc byte, fc uint32, apdu io.Reader) (io.Reader, error) {
	return g.GetDecryptorStream2(sc, sc, fc, apdu)
}

func (g *gcmCipher) GetDecryptorStream2(scControl byte, scContent byte, fc uint32, apdu io.Reader) (io.Reader, error) {
	if apdu == nil {
		return nil, base.NewEncodeError("ciphering: apdu is nil")
	}
	switch g.authenticationMechanismId {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
	default:
		return apdu, nil
	}

	data, err := io.ReadAll(apdu)
	if err != nil {
		return nil, err
	}
	dec, err := g.Decrypt2(nil, scControl, scContent, fc, data)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(dec), nil
}

func (g *gcmCipher) GetEncryptLength(scControl byte, apdu []byte) (int, error) {
	switch g.authenticationMechanismId {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
	default:
		return len(apdu), nil
	}
	switch scControl & 0x30 {
	case 0x10, 0x20, 0x30:
		return len(apdu) + GCM_TAG_LENGTH, nil
	}
	return 0, base.NewParseError("ciphering: GetEncryptLength not implemented for scControl %02X", scControl)
}
