package dlmsal

import "github.com/gridmeter/dlms-go/base"

// DefaultMaxAttributesPerRequest bounds how many LN request items a single
// GetChunked/SetChunked exchange carries when the caller asks for the
// default batch size (maxPerRequest <= 0). Chosen to stay well clear of
// typical meter PDU limits even at the smallest negotiated maxPduSendSize.
const DefaultMaxAttributesPerRequest = 10

// GetChunked reads an arbitrarily long list of attributes by splitting it
// into batches of at most maxPerRequest items (DefaultMaxAttributesPerRequest
// when maxPerRequest <= 0), issuing one Get exchange per batch, and
// concatenating the results in request order. Equivalent to calling Get
// directly when len(items) <= maxPerRequest.
func (d *dlmsal) GetChunked(items []DlmsLNRequestItem, maxPerRequest int) ([]DlmsData, error) {
	if !d.transport.isopen {
		return nil, base.ErrNotAssociated
	}
	if len(items) == 0 {
		return nil, base.ErrNothingToRead
	}
	if maxPerRequest <= 0 {
		maxPerRequest = DefaultMaxAttributesPerRequest
	}

	ret := make([]DlmsData, 0, len(items))
	for len(items) > 0 {
		n := maxPerRequest
		if n > len(items) {
			n = len(items)
		}
		batch := items[:n]
		items = items[n:]
		r, err := d.Get(batch)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r...)
	}
	return ret, nil
}

// SetChunked writes an arbitrarily long list of attributes by splitting it
// into batches of at most maxPerRequest items (DefaultMaxAttributesPerRequest
// when maxPerRequest <= 0), issuing one Set exchange per batch, and
// concatenating the per-item results in request order.
func (d *dlmsal) SetChunked(items []DlmsLNRequestItem, maxPerRequest int) ([]base.DlmsResultTag, error) {
	if !d.transport.isopen {
		return nil, base.ErrNotAssociated
	}
	if len(items) == 0 {
		return nil, base.ErrNothingToRead
	}
	if maxPerRequest <= 0 {
		maxPerRequest = DefaultMaxAttributesPerRequest
	}

	ret := make([]base.DlmsResultTag, 0, len(items))
	for len(items) > 0 {
		n := maxPerRequest
		if n > len(items) {
			n = len(items)
		}
		batch := items[:n]
		items = items[n:]
		r, err := d.Set(batch)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r...)
	}
	return ret, nil
}
