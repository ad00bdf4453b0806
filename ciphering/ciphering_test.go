package ciphering

import (
	"testing"

	"github.com/gridmeter/dlms-go/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) Ciphering {
	t.Helper()
	settings := &CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationHighGmac,
		EncryptionKey:             []byte("0123456789ABCDEF"),
		AuthenticationKey:         []byte("FEDCBA9876543210"),
		ClientTitle:               []byte("CLIENT01"),
		CtoS:                      []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	c, err := New(settings)
	require.NoError(t, err)
	// Decrypt2 builds its IV from the peer title set here and Encrypt2 from
	// the client title, so a loopback round trip needs the two to match.
	require.NoError(t, c.Setup([]byte("CLIENT01"), []byte{8, 7, 6, 5, 4, 3, 2, 1}))
	return c
}

func TestEncryptDecryptRoundTripAuthOnly(t *testing.T) {
	c := newTestCipher(t)
	plain := []byte("some apdu content to authenticate and encrypt")
	enc, err := c.Encrypt2(nil, 0x10, 0x10, 1, plain)
	require.NoError(t, err)
	dec, err := c.Decrypt2(nil, 0x10, 0x10, 1, enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestEncryptDecryptRoundTripEncryptOnly(t *testing.T) {
	c := newTestCipher(t)
	plain := []byte("encrypt only, no auth tag content")
	enc, err := c.Encrypt2(nil, 0x20, 0x20, 7, plain)
	require.NoError(t, err)
	dec, err := c.Decrypt2(nil, 0x20, 0x20, 7, enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestEncryptDecryptRoundTripAuthAndEncrypt(t *testing.T) {
	c := newTestCipher(t)
	plain := []byte("fully authenticated and encrypted apdu")
	enc, err := c.Encrypt2(nil, 0x30, 0x30, 42, plain)
	require.NoError(t, err)
	dec, err := c.Decrypt2(nil, 0x30, 0x30, 42, enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestGetEncryptLengthMatchesActualCiphertext(t *testing.T) {
	c := newTestCipher(t)
	plain := []byte("abcdefgh")
	for _, sc := range []byte{0x10, 0x20, 0x30} {
		l, err := c.GetEncryptLength(sc, plain)
		require.NoError(t, err)
		enc, err := c.Encrypt2(nil, sc, sc, 3, plain)
		require.NoError(t, err)
		assert.Equal(t, l, len(enc), "scControl %02x", sc)
	}
}

func TestIVDistinctAcrossInvocationCounters(t *testing.T) {
	c := newTestCipher(t).(*gcmCipher)
	plain := []byte("same plaintext every time")

	e1, err := c.Encrypt2(nil, 0x30, 0x30, 1, plain)
	require.NoError(t, err)
	e2, err := c.Encrypt2(nil, 0x30, 0x30, 2, plain)
	require.NoError(t, err)

	assert.NotEqual(t, e1, e2, "ciphertext must differ when the invocation counter (IV) differs")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := newTestCipher(t)
	plain := []byte("integrity protected payload")
	enc, err := c.Encrypt2(nil, 0x30, 0x30, 5, plain)
	require.NoError(t, err)
	tampered := append([]byte(nil), enc...)
	tampered[0] ^= 0xff
	_, err = c.Decrypt2(nil, 0x30, 0x30, 5, tampered)
	assert.Error(t, err)
}

func TestDecryptRejectsTooShortCiphertext(t *testing.T) {
	c := newTestCipher(t)
	_, err := c.Decrypt2(nil, 0x30, 0x30, 1, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNonGmacMechanismIsPassthrough(t *testing.T) {
	settings := &CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationLow,
		Password:                  []byte("secret"),
		ClientTitle:               []byte("CLIENT01"),
	}
	c, err := New(settings)
	require.NoError(t, err)
	require.NoError(t, c.Setup([]byte("SERVER01"), nil))

	plain := []byte("not actually encrypted")
	enc, err := c.Encrypt2(nil, 0x30, 0x30, 1, plain)
	require.NoError(t, err)
	assert.Equal(t, plain, enc)
}

func TestValidateRejectsShortClientTitle(t *testing.T) {
	settings := &CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationHighGmac,
		EncryptionKey:             []byte("0123456789ABCDEF"),
		AuthenticationKey:         []byte("FEDCBA9876543210"),
		ClientTitle:               []byte("short"),
	}
	assert.Error(t, settings.Validate())
}

func TestValidateRejectsMissingAuthKeyForGmac(t *testing.T) {
	settings := &CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationHighGmac,
		EncryptionKey:             []byte("0123456789ABCDEF"),
		ClientTitle:               []byte("CLIENT01"),
	}
	assert.Error(t, settings.Validate())
}

func TestHashLowIsPlainPassword(t *testing.T) {
	settings := &CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationLow,
		Password:                  []byte("my-password"),
		ClientTitle:               []byte("CLIENT01"),
	}
	c, err := New(settings)
	require.NoError(t, err)
	h, err := c.Hash(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("my-password"), h)
}
