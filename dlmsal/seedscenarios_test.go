package dlmsal

import (
	"testing"

	"github.com/gridmeter/dlms-go/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetRequestNormalMatchesScenario2 pins the GET-Request-Normal wire
// layout for Register.value (3, 1-0:1.8.0.255, 2) at invoke-id 1:
// C0 01 01  00 03  01 00 01 08 00 FF  02  00.
func TestGetRequestNormalMatchesScenario2(t *testing.T) {
	want := []byte{
		0xC0, 0x01, 0x01,
		0x00, 0x03,
		0x01, 0x00, 0x01, 0x08, 0x00, 0xFF,
		0x02,
		0x00,
	}

	resp := []byte{0xC4, 0x01, 0x01, 0x00, byte(TagUnsigned), 0x00}
	d, fs := openClient(t, [][]byte{resp}, 0)

	_, err := d.Get([]DlmsLNRequestItem{{ClassId: 3, Obis: DlmsObis{A: 1, C: 1, D: 8, F: 255}, Attribute: 2}})
	require.NoError(t, err)
	require.Len(t, fs.written, 1)
	assert.Equal(t, want, fs.written[0])
}

// TestGetResponseNormalDecodesScenario3 decodes a GET-Response-Normal
// carrying DoubleLongUnsigned 12345 at invoke-id 1:
// C4 01 01 00  06 00 00 30 39.
func TestGetResponseNormalDecodesScenario3(t *testing.T) {
	resp := []byte{0xC4, 0x01, 0x01, 0x00, byte(TagDoubleLongUnsigned), 0x00, 0x00, 0x30, 0x39}
	d, _ := openClient(t, [][]byte{resp}, 0)

	got, err := d.Get([]DlmsLNRequestItem{{ClassId: 3, Obis: DlmsObis{A: 1, C: 1, D: 8, F: 255}, Attribute: 2}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(12345), got[0].Value)
}

// TestSetRequestNormalMatchesScenario4 pins the SET-Request-Normal wire
// layout writing Unsigned(42) to 1/0-0:96.1.0.255/2 at invoke-id 2:
// C1 01 02  00 01  00 00 60 01 00 FF  02  00  11 2A, with a
// SET-Response-Normal of C5 01 02 00 (success).
func TestSetRequestNormalMatchesScenario4(t *testing.T) {
	want := []byte{
		0xC1, 0x01, 0x02,
		0x00, 0x01,
		0x00, 0x00, 0x60, 0x01, 0x00, 0xFF,
		0x02,
		0x00,
		0x11, 0x2A,
	}

	resp := []byte{0xC5, 0x01, 0x02, 0x00}
	d, fs := openClient(t, [][]byte{resp}, 0)
	d.invokeid = 1 // so the next allocated invoke-id is 2, matching the fixture

	val := DlmsData{Tag: TagUnsigned, Value: uint8(42)}
	got, err := d.Set([]DlmsLNRequestItem{{
		ClassId: 1, Obis: DlmsObis{C: 96, D: 1, F: 255}, Attribute: 2, SetData: &val,
	}})
	require.NoError(t, err)
	require.Len(t, fs.written, 1)
	assert.Equal(t, want, fs.written[0])
	assert.Equal(t, base.DlmsResultTag(0), got[0])
}

// TestAAREAcceptedMatchesScenario1 pins the minimal accepted AARE's
// context-tag semantics (application-context LN, result accepted,
// source-diagnostic none). It decodes the fixture's A1, A2 and A3 fields
// verbatim, without the outer APPLICATION[1] wrapper (whose literal length
// byte 0x1D/29 undercounts its own A1/A2/A3/BE fields, 31 bytes, by 2) and
// without the BE user-information stub.
func TestAAREAcceptedMatchesScenario1(t *testing.T) {
	inner := []byte{
		0xA1, 0x09, 0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x01,
		0xA2, 0x03, 0x02, 0x01, 0x00,
		0xA3, 0x05, 0xA1, 0x03, 0x02, 0x01, 0x00,
	}

	var tb tmpbuffer
	tags, err := decodeaare(inner, &tb)
	require.NoError(t, err)
	require.Len(t, tags, 3)

	ctx, err := parseApplicationContextName(tags[0])
	require.NoError(t, err)
	assert.Equal(t, base.ApplicationContextLNNoCiphering, ctx)

	result, err := parseAssociationResult(tags[1])
	require.NoError(t, err)
	assert.Equal(t, base.AssociationResultAccepted, result)

	diag, err := parseAssociateSourceDiagnostic(tags[2])
	require.NoError(t, err)
	assert.Equal(t, base.SourceDiagnosticNone, diag)
}
