package dlmsal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObisFromStringStandardFormat(t *testing.T) {
	ob, err := NewDlmsObisFromString("1-0:1.8.0.255")
	require.NoError(t, err)
	assert.Equal(t, DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}, ob)
	assert.Equal(t, "1-0:1.8.0.255", ob.String())
}

func TestObisFromStringStandardFormatNoPrefix(t *testing.T) {
	ob, cmp, err := NewDlmsObisFromStringComp("1.8.0.255")
	require.NoError(t, err)
	assert.Equal(t, DlmsObis{A: 0, B: 0, C: 1, D: 8, E: 0, F: 255}, ob)
	assert.NotZero(t, cmp&ObisHasC)
	assert.NotZero(t, cmp&ObisHasD)
	assert.Zero(t, cmp&ObisHasA)
}

func TestObisFromStringDotFormat(t *testing.T) {
	ob, cmp, err := NewDlmsObisFromStringComp("1.0.1.8.0.255")
	require.NoError(t, err)
	assert.Equal(t, DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}, ob)
	assert.NotZero(t, cmp&ObisHasA)
	assert.NotZero(t, cmp&ObisHasB)
	assert.NotZero(t, cmp&ObisHasF)
}

func TestObisFromStringInvalid(t *testing.T) {
	_, err := NewDlmsObisFromString("not-an-obis")
	assert.Error(t, err)
}

func TestObisFromSliceRoundTrip(t *testing.T) {
	want := DlmsObis{A: 0, B: 0, C: 96, D: 1, E: 0, F: 255}
	ob, err := NewDlmsObisFromSlice(want.Bytes())
	require.NoError(t, err)
	assert.True(t, ob.EqualTo(want))
}

func TestObisFromSliceTooShort(t *testing.T) {
	_, err := NewDlmsObisFromSlice([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDlmsDateTimeAsTimeRejectsUnspecified(t *testing.T) {
	dt := DlmsDateTime{Date: DlmsDate{Year: 0xffff, Month: 1, Day: 1}, Time: DlmsTime{Hour: 0, Minute: 0}}
	_, err := dt.AsTime()
	assert.Error(t, err)
}

func TestDlmsDateTimeAsTimeRoundTrip(t *testing.T) {
	dt := DlmsDateTime{
		Date:      DlmsDate{Year: 2023, Month: 6, Day: 1, DayOfWeek: 4},
		Time:      DlmsTime{Hour: 12, Minute: 0, Second: 0, Hundredths: 0},
		Deviation: 0,
	}
	tt, err := dt.AsTime()
	require.NoError(t, err)
	back := NewDlmsDateTimeFromTime(tt)
	assert.Equal(t, dt.Date.Year, back.Date.Year)
	assert.Equal(t, dt.Date.Month, back.Date.Month)
	assert.Equal(t, dt.Date.Day, back.Date.Day)
	assert.Equal(t, dt.Time.Hour, back.Time.Hour)
}
