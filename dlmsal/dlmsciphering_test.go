package dlmsal

import (
	"testing"

	"github.com/gridmeter/dlms-go/base"
	"github.com/gridmeter/dlms-go/ciphering"
	"github.com/stretchr/testify/require"
)

// scenario5Plaintext is the GET-Request-Normal bytes from the byte-exact
// fixture for Register.value (3, 1-0:1.8.0.255, 2), invoke-id 1.
var scenario5Plaintext = []byte{
	0xC0, 0x01, 0x01, 0x00, 0x03, 0x01, 0x00, 0x01, 0x08, 0x00, 0xFF, 0x02, 0x00,
}

var scenario5SystemTitle = []byte{0x4D, 0x4D, 0x4D, 0x00, 0x00, 0xBC, 0x61, 0x4E}

// TestEncryptGloGetRequestMatchesScenario5Envelope pins the GLO-GET-Request
// wire layout: tag 0xC8, an embedded 8-byte client system title under a
// len-tag(0x08), the BER length of what follows, a 0x20 (encryption-only)
// security-control byte, the big-endian frame counter, then ciphertext the
// same length as the plaintext (no auth tag at security-control 0x20).
func TestEncryptGloGetRequestMatchesScenario5Envelope(t *testing.T) {
	cipher, err := ciphering.New(&ciphering.CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationHighGmac,
		EncryptionKey:             make([]byte, 16), // "zero-byte key" per the fixture
		AuthenticationKey:         make([]byte, 16),
		ClientTitle:               scenario5SystemTitle,
	})
	require.NoError(t, err)
	// decryptpacket builds its IV from the peer title set here, so the
	// loopback round trip below needs the sender's title as the peer title.
	require.NoError(t, cipher.Setup(scenario5SystemTitle, nil))

	d := &dlmsal{
		settings: &DlmsSettings{
			Security:          base.SecurityEncryption,
			clientsystemtitle: scenario5SystemTitle,
			cipher:            cipher,
			framecounter:      1,
		},
	}

	env, err := d.encryptpacket(byte(base.TagGloGetRequest), scenario5Plaintext, false, true)
	require.NoError(t, err)

	require.Equal(t, byte(base.TagGloGetRequest), env[0])
	require.Equal(t, byte(0x08), env[1], "len-tag for the embedded system title")
	require.Equal(t, scenario5SystemTitle, env[2:10])

	lengthByte := env[10]
	require.Less(t, lengthByte, byte(0x80), "length fits the BER short form")
	body := env[11:]
	require.Equal(t, int(lengthByte), len(body))
	require.Equal(t, byte(0x20), body[0], "security-control: encryption only")
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, body[1:5], "big-endian frame counter")

	ciphertext := body[5:]
	require.Len(t, ciphertext, len(scenario5Plaintext), "no auth tag appended at security-control 0x20")
	require.NotEqual(t, scenario5Plaintext, ciphertext)

	// Round-trip through decryptpacket recovers the scenario-2 plaintext.
	d.settings.framecounter = 1 // Decrypt reads fc from the envelope, not this counter
	plain, err := d.decryptpacket(env, false, true)
	require.NoError(t, err)
	require.Equal(t, scenario5Plaintext, plain)
}

// TestEncryptRejectsInvocationCounterReuseOrRegression covers §4.5's MUST:
// encryptpacket must refuse to build an IV from a counter value equal to or
// lower than one already used for this (key, system-title) pair.
func TestEncryptRejectsInvocationCounterReuseOrRegression(t *testing.T) {
	cipher, err := ciphering.New(&ciphering.CipheringSettings{
		AuthenticationMechanismId: base.AuthenticationHighGmac,
		EncryptionKey:             make([]byte, 16),
		AuthenticationKey:         make([]byte, 16),
		ClientTitle:               scenario5SystemTitle,
	})
	require.NoError(t, err)
	require.NoError(t, cipher.Setup(make([]byte, 8), nil))

	d := &dlmsal{
		settings: &DlmsSettings{
			Security:          base.SecurityEncryption,
			clientsystemtitle: scenario5SystemTitle,
			cipher:            cipher,
			framecounter:      5,
		},
	}

	_, err = d.encryptpacket(byte(base.TagGloGetRequest), scenario5Plaintext, false, true)
	require.NoError(t, err)
	require.Equal(t, uint32(6), d.settings.framecounter, "counter must still advance on success")

	// Equality with the already-used value must be rejected.
	d.settings.framecounter = 5
	_, err = d.encryptpacket(byte(base.TagGloGetRequest), scenario5Plaintext, false, true)
	require.ErrorIs(t, err, base.ErrInvocationCounterReuse)

	// A regression below the already-used value must also be rejected.
	d.settings.framecounter = 3
	_, err = d.encryptpacket(byte(base.TagGloGetRequest), scenario5Plaintext, false, true)
	require.ErrorIs(t, err, base.ErrInvocationCounterReuse)

	// Advancing past the last used value succeeds again.
	d.settings.framecounter = 6
	_, err = d.encryptpacket(byte(base.TagGloGetRequest), scenario5Plaintext, false, true)
	require.NoError(t, err)
}
