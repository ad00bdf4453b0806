package dlmsal

import (
	"errors"
	"io"

	"github.com/gridmeter/dlms-go/base"
)

// readExceptionBody consumes an ExceptionResponse's state-error/service-error
// pair; neither sub-code is decoded further today since no caller
// distinguishes them yet. A short read that ends in EOF is treated as an
// empty exception body rather than a transport failure.
func readExceptionBody(src io.Reader, tmp *tmpbuffer) error {
	_, err := io.ReadFull(src, tmp[:2])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}

// decodeException turns a GET/SET ExceptionResponse into a generic "other
// reason" base.DataAccessFailed.
func decodeException(src io.Reader, tmp *tmpbuffer) (DlmsData, error) {
	if err := readExceptionBody(src, tmp); err != nil {
		return DlmsData{}, err
	}
	return NewDlmsDataError(base.TagResultOtherReason), nil
}

// decodeActionException turns an ACTION ExceptionResponse into a generic
// "other reason" base.ActionFailed, since the exception here reports the
// method-invocation outcome rather than an embedded GetDataResult.
func decodeActionException(src io.Reader, tmp *tmpbuffer) (DlmsData, error) {
	if err := readExceptionBody(src, tmp); err != nil {
		return DlmsData{}, err
	}
	return NewDlmsActionDataError(base.TagResultOtherReason), nil
}
