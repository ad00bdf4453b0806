package dlmsal

import "github.com/gridmeter/dlms-go/base"

func encodeRLRQ(s *DlmsSettings) (out []byte, err error) {
	out = make([]byte, 5)
	out[0] = byte(base.TagRLRQ)
	if s.EmptyRLRQ {
		out[1] = 0
		return out[:2], nil
	}

	out[1] = 3
	out[2] = base.BERTypeContext
	out[3] = 1
	out[4] = byte(base.ReleaseRequestReasonNormal)
	return
}

// parseRLRE inspects a release response for an explicit non-normal reason.
// Many meters reply with an empty or non-standard RLRE on close; only a
// well-formed reason field that isn't "normal" is treated as rejection, so
// those devices don't trip a spurious error on every disconnect.
func parseRLRE(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] != byte(base.TagRLRE) {
		return nil
	}
	if len(b) < 5 || b[2] != base.BERTypeContext {
		return nil
	}
	reason := base.ReleaseRequestReason(b[4])
	if reason != base.ReleaseRequestReasonNormal {
		return &base.ReleaseRejected{Reason: reason}
	}
	return nil
}
