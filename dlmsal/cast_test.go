package dlmsal

import (
	"errors"
	"testing"

	"github.com/gridmeter/dlms-go/base"
	"github.com/stretchr/testify/require"
)

// TestCastRejectsSemanticMismatchWithInvalidResponseData covers the
// typed-read half of §7's taxonomy: a decoded value whose Go type cannot
// represent the caller's target must surface as ErrInvalidResponseData,
// not a bare encode error.
func TestCastRejectsSemanticMismatchWithInvalidResponseData(t *testing.T) {
	var out int
	err := Cast(&out, DlmsData{Tag: TagOctetString, Value: []byte{1, 2, 3}})
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrInvalidResponseData))
}

func TestCastRejectsShortDateTimeOctetString(t *testing.T) {
	var out DlmsDateTime
	err := Cast(&out, DlmsData{Tag: TagOctetString, Value: []byte{1, 2, 3}})
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrInvalidResponseData))
}

// caller-side misuse remains an EncodeError, not a data-semantic one.
func TestCastRejectsNonPointerTarget(t *testing.T) {
	err := Cast(42, DlmsData{Tag: TagInteger, Value: int8(1)})
	require.Error(t, err)
	require.False(t, errors.Is(err, base.ErrInvalidResponseData))
	var encErr *base.EncodeError
	require.True(t, errors.As(err, &encErr))
}
