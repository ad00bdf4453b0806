// Package-internal envelope assembly for the GLO/DED/general ciphering
// wrappers (§4.5). Every data-service wrapper (glo-get-request, ded-set-
// response, the two general-*-ciphering tags, ...) carries the sender's
// 8-byte system title ahead of the security-control/frame-counter/
// ciphertext body; the one exception is the InitiateRequest/InitiateResponse
// ciphering used inside AARQ/AARE's user-information field, where the
// system title already rides in the AARQ/AARE's own calling/called-AP-title
// fields and embedding it a second time would be redundant. Callers say so
// explicitly via embedTitle rather than this package guessing from the tag.
package dlmsal

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/gridmeter/dlms-go/base"
)

// encryptpacket assembles one ciphered envelope: tag byte, optional
// system-title block, BER length, security-control byte, frame counter,
// then the GCM ciphertext.
func (d *dlmsal) encryptpacket(tag byte, apdu []byte, ded bool, embedTitle bool) ([]byte, error) {
	s := d.settings
	// lets panic in case of nil gcm -> program fault shouldnt happen at all
	wl, _ := s.cipher.GetEncryptLength(byte(s.Security), apdu)
	if cap(d.cryptbuffer) < wl+20 { // 11 bytes for header and 9 for a possible embedded systemtitle
		d.cryptbuffer = make([]byte, wl+20)
	} else {
		d.cryptbuffer = d.cryptbuffer[:cap(d.cryptbuffer)]
	}
	d.cryptbuffer[0] = tag
	off := 1
	if embedTitle {
		if len(s.clientsystemtitle) != 8 {
			return nil, base.NewEncodeError("invalid client system title length %d", len(s.clientsystemtitle))
		}
		d.cryptbuffer[1] = 8
		copy(d.cryptbuffer[2:], s.clientsystemtitle)
		off += 9
	}
	off += encodelength2(d.cryptbuffer[off:], uint(wl+5))
	d.cryptbuffer[off] = byte(s.Security)
	off++

	fc, err := s.nextinvocationcounter()
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(d.cryptbuffer[off:], fc)
	off += 4

	// in this state, encrypt cant remake input reusable buffer
	if ded {
		_, err = s.dedcipher.Encrypt(d.cryptbuffer[off:], byte(s.Security), fc, apdu)
	} else {
		_, err = s.cipher.Encrypt(d.cryptbuffer[off:], byte(s.Security), fc, apdu)
	}
	if err != nil {
		return nil, err
	}
	return d.cryptbuffer[:off+wl], nil
}

// decryptpacket reverses encryptpacket on a buffered (non-streamed) apdu,
// used for ciphered association user-information. apdu still carries its
// leading tag byte.
func (d *dlmsal) decryptpacket(apdu []byte, ded bool, embedTitle bool) ([]byte, error) {
	if len(apdu) < 5 {
		return nil, base.NewParseError("ciphered apdu too short: %d bytes", len(apdu))
	}

	s := d.settings
	enc := bytes.NewBuffer(apdu[1:])
	off := 1
	if embedTitle {
		sl, c, err := decodelength(enc, &d.tmpbuffer)
		if err != nil {
			return nil, err
		}
		off += c
		if off+int(sl) > len(apdu) {
			return nil, base.NewParseError("ciphered apdu too short for embedded system title")
		}
		var tmptitle []byte
		if len(d.tmpbuffer) >= int(sl) {
			tmptitle = d.tmpbuffer[:sl]
		} else {
			tmptitle = make([]byte, sl)
		}
		if _, err = io.ReadFull(enc, tmptitle); err != nil {
			return nil, base.NewParseError("unable to read embedded system title: %v", err)
		}
		off += int(sl)
	}

	sl, c, err := decodelength(enc, &d.tmpbuffer)
	if err != nil {
		return nil, base.NewParseError("unable to decode ciphered apdu length: %v", err)
	}
	off += c
	apdu = apdu[off:]
	if len(apdu) < int(sl) || len(apdu) < 5 {
		return nil, base.NewParseError("ciphered apdu too short for its declared length")
	}

	fc := binary.BigEndian.Uint32(apdu[1:])
	if ded {
		if s.dedcipher == nil {
			return nil, base.NewParseError("no dedicated ciphering configured")
		}
		d.cryptbuffer, err = s.dedcipher.Decrypt(d.cryptbuffer, apdu[0], fc, apdu[5:])
	} else {
		if s.cipher == nil {
			return nil, base.NewParseError("no global ciphering configured")
		}
		d.cryptbuffer, err = s.cipher.Decrypt(d.cryptbuffer, apdu[0], fc, apdu[5:]) // set cryptbuffer just to be reused
	}
	if err != nil {
		return nil, err
	}
	return d.cryptbuffer, nil
}
