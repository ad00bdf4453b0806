package dlmsal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeDescriptorEncodeDecodeRoundTrip(t *testing.T) {
	from := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 1, Day: 1, DayOfWeek: 1}, Time: DlmsTime{Hour: 0, Minute: 0, Second: 0, Hundredths: 0xff}}
	to := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 1, Day: 31, DayOfWeek: 3}, Time: DlmsTime{Hour: 23, Minute: 59, Second: 59, Hundredths: 0xff}}
	rd := NewClockRangeDescriptor(from, to)

	selector, params := rd.Encode()
	assert.Equal(t, AccessSelectorRange, selector)
	assert.Equal(t, byte(1), selector)

	got, err := ParseRangeDescriptor(selector, params)
	require.NoError(t, err)
	assert.Equal(t, rd.RestrictingObject, got.RestrictingObject)
	assert.Equal(t, from, got.From)
	assert.Equal(t, to, got.To)
	assert.Len(t, got.SelectedValues, 0)
}

func TestRangeDescriptorWithSelectedValues(t *testing.T) {
	from := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 6, Day: 1}}
	to := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 6, Day: 30}}
	rd := RangeDescriptor{
		RestrictingObject: clockCaptureObject,
		From:              from,
		To:                to,
		SelectedValues: []CaptureObjectDefinition{
			{ClassId: 3, Obis: DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}, Attribute: 2, Version: 0},
		},
	}
	selector, params := rd.Encode()
	got, err := ParseRangeDescriptor(selector, params)
	require.NoError(t, err)
	require.Len(t, got.SelectedValues, 1)
	assert.Equal(t, uint16(3), got.SelectedValues[0].ClassId)
	assert.True(t, got.SelectedValues[0].Obis.EqualTo(DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}))
}

func TestParseRangeDescriptorWrongSelector(t *testing.T) {
	_, params := NewClockRangeDescriptor(DlmsDateTime{}, DlmsDateTime{}).Encode()
	_, err := ParseRangeDescriptor(AccessSelectorEntry, params)
	assert.Error(t, err)
}

func TestEntryDescriptorEncodeDecodeRoundTrip(t *testing.T) {
	ed := EntryDescriptor{FromEntry: 1, ToEntry: 100, FromSelectedValue: 0, ToSelectedValue: 0xffff}
	selector, params := ed.Encode()
	assert.Equal(t, AccessSelectorEntry, selector)
	assert.Equal(t, byte(2), selector)

	got, err := ParseEntryDescriptor(selector, params)
	require.NoError(t, err)
	assert.Equal(t, ed, got)
}

func TestParseEntryDescriptorWrongSelector(t *testing.T) {
	_, params := EntryDescriptor{}.Encode()
	_, err := ParseEntryDescriptor(AccessSelectorRange, params)
	assert.Error(t, err)
}

func TestEncodeSimpleRangeAccess(t *testing.T) {
	from := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 1, Day: 1}}
	to := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 2, Day: 1}}
	params := EncodeSimpleRangeAccess(&from, &to)
	got, err := ParseRangeDescriptor(AccessSelectorRange, params)
	require.NoError(t, err)
	assert.Equal(t, from, got.From)
	assert.Equal(t, to, got.To)
}

func TestParseCaptureObjectWiredFromRawOctetString(t *testing.T) {
	co := EncodeCaptureObject(8, clockCaptureObject.Obis, 2, 5)
	co.Value.([]DlmsData)[1] = DlmsData{Tag: TagOctetString, Value: clockCaptureObject.Obis.Bytes()}
	got, err := parseCaptureObject(co)
	require.NoError(t, err)
	assert.Equal(t, clockCaptureObject.Obis, got.Obis)
	assert.Equal(t, uint16(8), got.ClassId)
	assert.Equal(t, int8(2), got.Attribute)
	assert.Equal(t, uint16(5), got.Version)
}
