package dlmsal

import (
	"encoding/binary"

	"github.com/gridmeter/dlms-go/base"
	"github.com/gridmeter/dlms-go/ciphering"
)

// LNAuthentication runs the high-level (HLS) mutual authentication exchange
// required after an AARE that reports SourceDiagnosticAuthenticationRequired.
// It delegates the actual hash/verify math to settings.cipher, the same
// Ciphering engine used for GLO/DED data ciphering, so the per-mechanism
// logic lives in exactly one place.
func (d *dlmsal) LNAuthentication(checkresp bool) error {
	s := d.settings

	if s.AssociationResult != base.AssociationResultAccepted {
		return base.NewParseError("association result not accepted: %v", s.AssociationResult)
	}

	switch s.SourceDiagnostic {
	case base.SourceDiagnosticNone:
		return nil
	case base.SourceDiagnosticAuthenticationRequired:
	default:
		return base.NewParseError("invalid aare response: %v", s.SourceDiagnostic)
	}

	switch s.AuthenticationMechanismId {
	case base.AuthenticationNone, base.AuthenticationLow:
		return base.NewEncodeError("invalid authentication mechanism for HLS: %v", s.AuthenticationMechanismId)
	case base.AuthenticationHigh:
		return base.NewEncodeError("high authentication not implemented, this is manufacturer specific mostly")
	}
	if s.cipher == nil {
		return base.NewEncodeError("ciphering not configured, required for high-level authentication")
	}

	fc := s.framecounter
	if s.AuthenticationMechanismId == base.AuthenticationHighGmac {
		var err error
		fc, err = s.nextinvocationcounter()
		if err != nil {
			return err
		}
	}
	hashdata, err := s.cipher.Hash(byte(base.SecurityAuthentication), fc)
	if err != nil {
		return err
	}
	if s.AuthenticationMechanismId == base.AuthenticationHighGmac {
		framed := make([]byte, 5+len(hashdata))
		framed[0] = byte(base.SecurityAuthentication)
		binary.BigEndian.PutUint32(framed[1:], fc)
		copy(framed[5:], hashdata)
		hashdata = framed
	}

	data := DlmsData{Tag: TagOctetString, Value: hashdata}
	req := DlmsLNRequestItem{
		ClassId:   15,
		Obis:      DlmsObis{A: 0, B: 0, C: 40, D: 0, E: 0, F: 255},
		Attribute: 1,
		HasAccess: false,
		SetData:   &data,
	}

	adata, err := d.Action(req)
	if err != nil {
		return err
	}
	if adata == nil {
		return base.NewParseError("no data received from authentication action")
	}
	if !checkresp {
		return nil
	}

	var aresp []byte
	if err := Cast(&aresp, *adata); err != nil {
		return err
	}

	if s.AuthenticationMechanismId == base.AuthenticationHighGmac {
		if len(aresp) != 5+ciphering.GCM_TAG_LENGTH || aresp[0] != byte(base.SecurityAuthentication) {
			return base.NewParseError("invalid stoc hash response")
		}
		ok, err := s.cipher.Verify(aresp[0], binary.BigEndian.Uint32(aresp[1:]), aresp[5:])
		if err != nil {
			return err
		}
		if !ok {
			return base.ErrInvalidAuthenticationResponse
		}
		return nil
	}

	ok, err := s.cipher.Verify(byte(base.SecurityAuthentication), s.framecounter, aresp)
	if err != nil {
		return err
	}
	if !ok {
		return base.ErrInvalidAuthenticationResponse
	}
	return nil
}
