package dlmsal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundtripData(t *testing.T, d DlmsData) DlmsData {
	t.Helper()
	enc, err := EncodeData(d)
	require.NoError(t, err)
	var tmp tmpbuffer
	got, c, err := decodeDataTag(bytes.NewReader(enc), &tmp)
	require.NoError(t, err)
	assert.Equal(t, len(enc), c)
	return got
}

func TestDataRoundTripScalars(t *testing.T) {
	cases := []DlmsData{
		{Tag: TagNull},
		{Tag: TagBoolean, Value: true},
		{Tag: TagBoolean, Value: false},
		{Tag: TagDoubleLong, Value: int32(-123456)},
		{Tag: TagDoubleLongUnsigned, Value: uint32(123456)},
		{Tag: TagFloatingPoint, Value: float32(3.5)},
		{Tag: TagOctetString, Value: []byte{0xde, 0xad, 0xbe, 0xef}},
		{Tag: TagVisibleString, Value: "hello"},
		{Tag: TagUTF8String, Value: "héllo"},
		{Tag: TagBCD, Value: int8(42)},
		{Tag: TagInteger, Value: int8(-5)},
		{Tag: TagLong, Value: int16(-1000)},
		{Tag: TagUnsigned, Value: uint8(200)},
		{Tag: TagLongUnsigned, Value: uint16(60000)},
		{Tag: TagLong64, Value: int64(-9000000000)},
		{Tag: TagLong64Unsigned, Value: uint64(9000000000)},
		{Tag: TagEnum, Value: uint8(3)},
		{Tag: TagFloat32, Value: float32(1.25)},
		{Tag: TagFloat64, Value: float64(2.5)},
	}
	for _, c := range cases {
		got := roundtripData(t, c)
		assert.Equal(t, c.Tag, got.Tag)
		assert.Equal(t, c.Value, got.Value)
	}
}

func TestDataRoundTripBCDNegative(t *testing.T) {
	got := roundtripData(t, DlmsData{Tag: TagBCD, Value: int8(-7)})
	assert.Equal(t, int8(-7), got.Value)
}

func TestDataRoundTripBCDTwoDigits(t *testing.T) {
	// the wire format's tens nibble is masked to 3 bits on decode (bit 7 is
	// sign), so the representable magnitude tops out at 79, not 99.
	got := roundtripData(t, DlmsData{Tag: TagBCD, Value: int8(-77)})
	assert.Equal(t, int8(-77), got.Value)
}

func TestDataRoundTripBitString(t *testing.T) {
	got := roundtripData(t, DlmsData{Tag: TagBitString, Value: "1011"})
	bits, ok := got.Value.([]bool)
	require.True(t, ok)
	assert.Equal(t, []bool{true, false, true, true}, bits)
}

func TestDataRoundTripDateTime(t *testing.T) {
	dt := DlmsDateTime{
		Date:      DlmsDate{Year: 2024, Month: 3, Day: 15, DayOfWeek: 5},
		Time:      DlmsTime{Hour: 10, Minute: 30, Second: 0, Hundredths: 0},
		Deviation: -60,
		Status:    0,
	}
	got := roundtripData(t, DlmsData{Tag: TagDateTime, Value: dt})
	assert.Equal(t, TagDateTime, got.Tag)
	assert.Equal(t, dt, got.Value)
}

func TestDataRoundTripDate(t *testing.T) {
	d := DlmsDate{Year: 2024, Month: 12, Day: 31, DayOfWeek: 2}
	got := roundtripData(t, DlmsData{Tag: TagDate, Value: d})
	assert.Equal(t, d, got.Value)
}

func TestDataRoundTripTime(t *testing.T) {
	tm := DlmsTime{Hour: 23, Minute: 59, Second: 59, Hundredths: 99}
	got := roundtripData(t, DlmsData{Tag: TagTime, Value: tm})
	assert.Equal(t, tm, got.Value)
}

func TestDataRoundTripDateTimeUnspecifiedSentinels(t *testing.T) {
	dt := DlmsDateTime{
		Date:      DlmsDate{Year: 0xffff, Month: 0xff, Day: 0xff, DayOfWeek: 0xff},
		Time:      DlmsTime{Hour: 0xff, Minute: 0xff, Second: 0xff, Hundredths: 0xff},
		Deviation: DateTimeInvalidDeviation,
		Status:    0,
	}
	got := roundtripData(t, DlmsData{Tag: TagDateTime, Value: dt})
	assert.Equal(t, dt, got.Value)
}

func TestDataDecodeRejectsOutOfRangeDate(t *testing.T) {
	var tmp tmpbuffer
	// year 2024, month 13 (invalid), day 1, dow 1
	raw := []byte{0x07, 0xe8, 13, 1, 1}
	_, _, err := decodeData(bytes.NewReader(raw), TagDate, &tmp)
	assert.Error(t, err)
}

func TestDataDecodeRejectsOutOfRangeTime(t *testing.T) {
	var tmp tmpbuffer
	raw := []byte{23, 60, 0, 0} // minute 60 invalid
	_, _, err := decodeData(bytes.NewReader(raw), TagTime, &tmp)
	assert.Error(t, err)
}

func TestDataDecodeRejectsOutOfRangeDayOfWeek(t *testing.T) {
	var tmp tmpbuffer
	raw := []byte{0x07, 0xe8, 1, 1, 8} // day of week 8 invalid (1-7 or 0xff)
	_, _, err := decodeData(bytes.NewReader(raw), TagDate, &tmp)
	assert.Error(t, err)
}

func TestDataRoundTripArrayStructure(t *testing.T) {
	d := DlmsData{
		Tag: TagStructure,
		Value: []DlmsData{
			{Tag: TagLongUnsigned, Value: uint16(7)},
			{Tag: TagOctetString, Value: []byte{1, 2, 3}},
			{
				Tag: TagArray,
				Value: []DlmsData{
					{Tag: TagInteger, Value: int8(1)},
					{Tag: TagInteger, Value: int8(2)},
				},
			},
		},
	}
	got := roundtripData(t, d)
	require.Equal(t, TagStructure, got.Tag)
	ch, ok := got.Value.([]DlmsData)
	require.True(t, ok)
	require.Len(t, ch, 3)
	assert.Equal(t, uint16(7), ch[0].Value)
	assert.Equal(t, []byte{1, 2, 3}, ch[1].Value)
	inner, ok := ch[2].Value.([]DlmsData)
	require.True(t, ok)
	require.Len(t, inner, 2)
	assert.Equal(t, int8(1), inner[0].Value)
	assert.Equal(t, int8(2), inner[1].Value)
}

func TestDataRoundTripEmptyArray(t *testing.T) {
	got := roundtripData(t, DlmsData{Tag: TagArray, Value: []DlmsData{}})
	ch, ok := got.Value.([]DlmsData)
	require.True(t, ok)
	assert.Len(t, ch, 0)
}

func TestEncodeDataNilValue(t *testing.T) {
	_, err := EncodeData(DlmsData{Tag: TagBoolean, Value: nil})
	assert.Error(t, err)
}
