package dlmsal

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/gridmeter/dlms-go/base"
)

type initiateResponse struct {
	negotiatedQualityOfService byte
	serverMaxReceivePduSize    uint16
	vAAddress                  int16
}

type confirmedServiceErrorTag byte

const (
	TagErrInitiateError confirmedServiceErrorTag = 1
	TagErrRead          confirmedServiceErrorTag = 5
	TagErrWrite         confirmedServiceErrorTag = 6
)

type serviceErrorTag byte

const (
	TagErrApplicationReference serviceErrorTag = 0
	TagErrHardwareResource     serviceErrorTag = 1
	TagErrVdeStateError        serviceErrorTag = 2
	TagErrService              serviceErrorTag = 3
	TagErrDefinition           serviceErrorTag = 4
	TagErrAccess               serviceErrorTag = 5
	TagErrInitiate             serviceErrorTag = 6
	TagErrLoadDataSet          serviceErrorTag = 7
	TagErrTask                 serviceErrorTag = 9
	TagErrOtherError           serviceErrorTag = 10
)

type confirmedServiceError struct {
	ConfirmedServiceError confirmedServiceErrorTag
	ServiceError          serviceErrorTag
	Value                 byte
}

type aaretag struct {
	tag  byte
	data []byte
}

type aaResponse struct {
	applicationContextName base.ApplicationContext
	initiateResponse       *initiateResponse
	confirmedServiceError  *confirmedServiceError
}

func putappctxname(dst *bytes.Buffer, settings *DlmsSettings) {
	dst.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName)
	dst.Write([]byte{0x09, 0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01})
	dst.WriteByte(byte(settings.ApplicationContext))
}

func putmechname(dst *bytes.Buffer, settings *DlmsSettings) {
	if settings.AuthenticationMechanismId == base.AuthenticationNone {
		return
	}
	encodetag(dst, base.BERTypeContext|base.PduTypeSenderAcseRequirements, []byte{0x07, 0x80})
	dst.WriteByte(base.BERTypeContext | base.PduTypeMechanismName)
	dst.Write([]byte{0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x02})
	dst.WriteByte(byte(settings.AuthenticationMechanismId))
}

func putsecvalues(dst *bytes.Buffer, settings *DlmsSettings) {
	if settings.AuthenticationMechanismId == base.AuthenticationNone {
		return
	}
	encodetag2(dst, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeCallingAuthenticationValue, 0x80, settings.password)
}

func isHighLevelAuthentication(mech base.Authentication) bool {
	switch mech {
	case base.AuthenticationHighGmac, base.AuthenticationHighSha256, base.AuthenticationHighEcdsa:
		return true
	default:
		return false
	}
}

func putsystitle(dst *bytes.Buffer, settings *DlmsSettings) {
	if isHighLevelAuthentication(settings.AuthenticationMechanismId) {
		encodetag2(dst, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeCallingAPTitle, 0x04, settings.clientsystemtitle)
	}
}

func putuserid(dst *bytes.Buffer, settings *DlmsSettings) {
	if settings.UserId == nil {
		return
	}
	dst.WriteByte(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEInvocationID)
	dst.Write([]byte{3, 2, 1, *settings.UserId})
}

// createxdlms assembles the InitiateRequest carried inside AARQ's
// user-information field, ciphering it first when the session negotiated
// high-level security (the request's system title already rides in AARQ's
// own calling-AP-title, so the wrapper here never re-embeds it).
func (d *dlmsal) createxdlms(dst *bytes.Buffer) error {
	s := d.settings
	xdlms := buildInitiateRequestBody(s)

	if !s.DontEncryptUserInformation && isHighLevelAuthentication(s.AuthenticationMechanismId) {
		ciphered, err := d.encryptpacket(byte(base.TagGloInitiateRequest), xdlms, false, false)
		if err != nil {
			return err
		}
		xdlms = ciphered
	}
	encodetag2(dst, base.BERTypeContext|base.BERTypeConstructed|base.PduTypeUserInformation, 0x04, xdlms)
	return nil
}

func buildInitiateRequestBody(s *DlmsSettings) []byte {
	var xdlms []byte
	var body []byte
	if s.dedcipher != nil {
		xdlms = make([]byte, 15+len(s.dedicatedkey))
		xdlms[0] = byte(base.TagInitiateRequest)
		xdlms[1] = 0x01
		xdlms[2] = byte(len(s.dedicatedkey))
		copy(xdlms[3:], s.dedicatedkey)
		body = xdlms[3+len(s.dedicatedkey):]
	} else {
		xdlms = make([]byte, 14)
		xdlms[0] = byte(base.TagInitiateRequest)
		xdlms[1] = 0x00
		body = xdlms[2:]
	}
	copy(body, []byte{0x00, 0x00, 0x06, 0x5f, 0x1f, 0x04})
	binary.BigEndian.PutUint32(body[6:], uint32(s.ConformanceBlock))
	body[10] = byte(s.MaxPduRecvSize >> 8)
	body[11] = byte(s.MaxPduRecvSize)
	return xdlms
}

func (d *dlmsal) encodeaarq() (out []byte, outnosec []byte, err error) {
	var buf bytes.Buffer
	var content bytes.Buffer
	s := d.settings

	putappctxname(&content, s)
	putsystitle(&content, s)
	putuserid(&content, s)
	putmechname(&content, s)
	secStart := content.Len()
	putsecvalues(&content, s)
	secEnd := content.Len()
	if err = d.createxdlms(&content); err != nil {
		return
	}

	encodetag(&buf, byte(base.TagAARQ), content.Bytes())
	out = buf.Bytes()
	outnosec = slices.Clone(out)
	clear(outnosec[secStart:secEnd])
	return
}

func decodeaare(src []byte, tmp *tmpbuffer) ([]aaretag, error) {
	ret := make([]aaretag, 0, 20)
	for len(src) > 0 {
		tag, l, data, err := decodetag(src, tmp)
		if err != nil {
			return nil, err
		}
		ret = append(ret, aaretag{tag: tag, data: data})
		src = src[l:]
	}
	return ret, nil
}

// fixedTagBody verifies tag.data has the expected total length and that its
// first len(prefix) bytes equal prefix, then returns whatever follows. The
// A1, A2, 88 and 89 parsers use it; A3, A4, A5, AA and BE are checked by
// parsers of their own.
func fixedTagBody(name string, tag aaretag, wantLen int, prefix []byte) ([]byte, error) {
	if len(tag.data) != wantLen {
		return nil, base.NewParseError("aare: invalid %s tag length %d, want %d", name, len(tag.data), wantLen)
	}
	if !bytes.Equal(tag.data[:len(prefix)], prefix) {
		return nil, base.NewParseError("aare: invalid %s tag content", name)
	}
	return tag.data[len(prefix):], nil
}

func parseApplicationContextName(tag aaretag) (base.ApplicationContext, error) {
	rest, err := fixedTagBody("A1", tag, 9, []byte{0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01})
	if err != nil {
		return 0, err
	}
	return base.ApplicationContext(rest[0]), nil
}

func parseAssociationResult(tag aaretag) (base.AssociationResult, error) {
	rest, err := fixedTagBody("A2", tag, 3, []byte{0x02, 0x01})
	if err != nil {
		return 0, err
	}
	return base.AssociationResult(rest[0]), nil
}

func parseAssociateSourceDiagnostic(tag aaretag) (base.SourceDiagnostic, error) {
	if len(tag.data) != 5 {
		return 0, base.NewParseError("aare: invalid A3 tag length %d", len(tag.data))
	}
	if !bytes.Equal(tag.data[1:4], []byte{0x03, 0x02, 0x01}) {
		return 0, base.NewParseError("aare: invalid A3 tag content")
	}
	return base.SourceDiagnostic(tag.data[4]), nil
}

// parseAPTitle unwraps an inner BER tag 0x04 (octet-string) from an A4
// field and returns a copy of its content, since tag.data aliases a shared
// decode buffer.
func parseAPTitle(tag aaretag, tmp *tmpbuffer) ([]byte, error) {
	return parseInnerOctetString("A4", tag, 0x04, tmp)
}

func parseInnerOctetString(name string, tag aaretag, wantInner byte, tmp *tmpbuffer) ([]byte, error) {
	if len(tag.data) < 2 {
		return nil, base.NewParseError("aare: invalid %s tag length %d", name, len(tag.data))
	}
	t, _, d, err := decodetag(tag.data, tmp)
	if err != nil {
		return nil, err
	}
	if t != wantInner {
		return nil, base.NewParseError("aare: invalid %s tag content", name)
	}
	return slices.Clone(d), nil
}

func (d *dlmsal) parseCalledAEInvocationID(tag aaretag) error {
	if len(tag.data) < 2 {
		return base.NewParseError("aare: invalid A5 tag length %d", len(tag.data))
	}
	t, _, _, err := decodetag(tag.data, &d.tmpbuffer)
	if err != nil {
		return err
	}
	d.logf("parseCalledAEInvocationID, for now, not used much: %02x %02x", tag.tag, t)
	return nil
}

func parseSenderAcseRequirements(tag aaretag, tmp *tmpbuffer) ([]byte, error) {
	return parseInnerOctetString("AA", tag, 0x80, tmp)
}

func parseAcsefield(tag aaretag) error {
	_, err := fixedTagBody("88", tag, 2, []byte{0x07, 0x80})
	return err
}

func parseAEInvocationID(tag aaretag) (base.Authentication, error) {
	rest, err := fixedTagBody("89", tag, 7, []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x02})
	if err != nil {
		return 0, err
	}
	return base.Authentication(rest[0]), nil
}

func (al *dlmsal) parseUserInformation(tag aaretag) (*initiateResponse, *confirmedServiceError, error) {
	if len(tag.data) < 6 {
		return nil, nil, base.NewParseError("aare: invalid BE tag length %d", len(tag.data))
	}
	t, _, d, err := decodetag(tag.data, &al.tmpbuffer)
	if err != nil {
		return nil, nil, err
	}
	if t != 0x04 {
		return nil, nil, base.NewParseError("aare: invalid BE tag content")
	}
	return al.parseUserInformationtag(d)
}

// parseUserInformationtag peels off ciphering wrappers recursively until it
// reaches a plain InitiateResponse or ConfirmedServiceError.
func (al *dlmsal) parseUserInformationtag(d []byte) (*initiateResponse, *confirmedServiceError, error) {
	switch base.CosemTag(d[0]) {
	case base.TagInitiateResponse:
		ir, err := al.decodeInitiateResponse(d[1:])
		return &ir, nil, err
	case base.TagConfirmedServiceError:
		cse, err := decodeConfirmedServiceError(d[1:])
		return nil, &cse, err
	case base.TagGloConfirmedServiceError:
		return nil, nil, base.NewParseError("aare: server returned a ciphered confirmed-service-error")
	case base.TagGloInitiateResponse, base.TagGeneralGloCiphering:
		embedsTitle := d[0] == byte(base.TagGeneralGloCiphering)
		plain, err := al.decryptpacket(d, false, embedsTitle)
		if err != nil {
			return nil, nil, err
		}
		return al.parseUserInformationtag(plain)
	default:
		return nil, nil, base.NewParseError("aare: unexpected user-information tag %#x", d[0])
	}
}

func (al *dlmsal) decodeInitiateResponse(src []byte) (initiateResponse, error) {
	var out initiateResponse
	if len(src) < 13 {
		// some meters omit the trailing byte of a response with no quality
		// of service field; reuse the decode buffer's spare capacity.
		if len(src) == 12 && cap(src) > 12 {
			src = src[:13]
		} else {
			return out, base.NewParseError("aare: invalid initiate response length %d", len(src))
		}
	}

	if src[0] == 0x01 {
		out.negotiatedQualityOfService = src[1]
		src = src[2:]
	} else {
		src = src[1:]
	}

	if src[0] != base.DlmsVersion {
		return out, base.NewParseError("aare: unsupported dlms version %d", src[0])
	}
	if !bytes.Equal(src[1:5], []byte{0x5F, 0x1F, 0x04, 0x00}) {
		return out, base.NewParseError("aare: invalid initiate response content")
	}

	al.settings.ReturnedConformanceBlock = binary.BigEndian.Uint32(src[4:8])
	al.settings.computedconf = al.settings.ConformanceBlock & al.settings.ReturnedConformanceBlock
	out.serverMaxReceivePduSize = binary.BigEndian.Uint16(src[8:10])
	out.vAAddress = int16(binary.BigEndian.Uint16(src[10:12]))
	return out, nil
}

func decodeConfirmedServiceError(src []byte) (confirmedServiceError, error) {
	var out confirmedServiceError
	if len(src) < 3 {
		return out, base.NewParseError("aare: invalid confirmed-service-error length %d", len(src))
	}
	out.ConfirmedServiceError = confirmedServiceErrorTag(src[0])
	out.ServiceError = serviceErrorTag(src[1])
	out.Value = src[2]
	return out, nil
}
