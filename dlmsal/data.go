package dlmsal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gridmeter/dlms-go/base"
)

type dataTag uint16

const (
	TagNull               dataTag = 0
	TagArray              dataTag = 1
	TagStructure          dataTag = 2
	TagBoolean            dataTag = 3
	TagBitString          dataTag = 4
	TagDoubleLong         dataTag = 5
	TagDoubleLongUnsigned dataTag = 6
	TagFloatingPoint      dataTag = 7
	TagOctetString        dataTag = 9
	TagVisibleString      dataTag = 10
	TagUTF8String         dataTag = 12
	TagBCD                dataTag = 13
	TagInteger            dataTag = 15
	TagLong               dataTag = 16
	TagUnsigned           dataTag = 17
	TagLongUnsigned       dataTag = 18
	TagCompactArray       dataTag = 19
	TagLong64             dataTag = 20
	TagLong64Unsigned     dataTag = 21
	TagEnum               dataTag = 22
	TagFloat32            dataTag = 23
	TagFloat64            dataTag = 24
	TagDateTime           dataTag = 25
	TagDate               dataTag = 26
	TagTime               dataTag = 27
	TagDontCare           dataTag = 255
	TagError              dataTag = 0x1000 // artifical tag outside of dlms standard but not interfering with it
)

type DlmsData struct {
	Value interface{}
	Tag   dataTag
}

// NewDlmsDataError wraps a per-item DataAccessResult failure as a DlmsData
// value, for GET/SET call sites where a failing item is reported inline in
// the result vector rather than as a call-level error (§4.7).
func NewDlmsDataError(result base.DlmsResultTag) DlmsData {
	return DlmsData{Tag: TagError, Value: &base.DataAccessFailed{Result: result}}
}

// NewDlmsError builds a plain error out of a DataAccessResult, for call
// sites that return an error directly instead of embedding it in a
// DlmsData (e.g. an exception response on a stream-returning operation).
func NewDlmsError(result base.DlmsResultTag) error {
	return &base.DataAccessFailed{Result: result}
}

// NewDlmsActionDataError wraps a per-item ActionResult failure as a
// DlmsData value, for ACTION call sites reporting the method-invocation
// outcome itself rather than the optional embedded GetDataResult.
func NewDlmsActionDataError(result base.DlmsResultTag) DlmsData {
	return DlmsData{Tag: TagError, Value: &base.ActionFailed{Result: result}}
}

// NewDlmsActionError builds a plain ActionResult failure, for ACTION
// exception-response paths.
func NewDlmsActionError(result base.DlmsResultTag) error {
	return &base.ActionFailed{Result: result}
}

type DlmsCompactArray struct {
	tag   dataTag
	tags  []dataTag
	value []DlmsData
}

func decodeDataTag(src io.Reader, tmpbuffer *tmpbuffer) (data DlmsData, c int, err error) {
	_, err = io.ReadFull(src, tmpbuffer[:1])
	if err != nil {
		return
	}
	t := dataTag(tmpbuffer[0])
	data, c, err = decodeData(src, t, tmpbuffer)
	return data, c + 1, err
}

func decodeDataArray(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (data DlmsData, c int, err error) {
	var ii int
	l, c, err := decodelength(src, tmpbuffer)
	if err != nil {
		return data, 0, err
	}
	d := make([]DlmsData, l)
	for i := 0; i < int(l); i++ {
		d[i], ii, err = decodeDataTag(src, tmpbuffer)
		if err != nil {
			return data, 0, err
		}
		c += ii
	}
	return DlmsData{Tag: tag, Value: d}, c, nil
}

// scalarDecoder describes a data tag whose wire form is a fixed-width
// field that can be read verbatim and converted with a pure function of
// those bytes: no length prefix, no follow-up validation.
type scalarDecoder struct {
	width int
	what  string
	parse func([]byte) interface{}
}

var scalarDecoders = map[dataTag]scalarDecoder{
	TagBoolean:            {1, "boolean", func(b []byte) interface{} { return b[0] != 0 }},
	TagDoubleLong:         {4, "double long", func(b []byte) interface{} { return int32(binary.BigEndian.Uint32(b)) }},
	TagDoubleLongUnsigned: {4, "double long unsigned", func(b []byte) interface{} { return binary.BigEndian.Uint32(b) }},
	TagFloatingPoint:      {4, "floating point", func(b []byte) interface{} { return math.Float32frombits(binary.BigEndian.Uint32(b)) }},
	TagBCD:                {1, "bcd", decodeBCDByte},
	TagInteger:            {1, "integer", func(b []byte) interface{} { return int8(b[0]) }},
	TagLong:               {2, "long", func(b []byte) interface{} { return int16(binary.BigEndian.Uint16(b)) }},
	TagUnsigned:           {1, "unsigned", func(b []byte) interface{} { return b[0] }},
	TagLongUnsigned:       {2, "long unsigned", func(b []byte) interface{} { return binary.BigEndian.Uint16(b) }},
	TagLong64:             {8, "long64", func(b []byte) interface{} { return int64(binary.BigEndian.Uint64(b)) }},
	TagLong64Unsigned:     {8, "long64 unsigned", func(b []byte) interface{} { return binary.BigEndian.Uint64(b) }},
	TagEnum:               {1, "enum", func(b []byte) interface{} { return b[0] }},
	TagFloat32:            {4, "float32", func(b []byte) interface{} { return math.Float32frombits(binary.BigEndian.Uint32(b)) }},
	TagFloat64:            {8, "float64", func(b []byte) interface{} { return math.Float64frombits(binary.BigEndian.Uint64(b)) }},
}

func decodeBCDByte(b []byte) interface{} {
	v := int(b[0]&0xf) + 10*(int(b[0]>>4)&7)
	if b[0]&0x80 != 0 {
		v = -v
	}
	return int8(v)
}

// readExact reads exactly n bytes, using tmpbuffer's backing array when it
// is big enough, and wraps a short read as a parse error naming what was
// being decoded.
func readExact(src io.Reader, tmpbuffer *tmpbuffer, n int, what string) ([]byte, error) {
	var buf []byte
	if n <= len(tmpbuffer) {
		buf = tmpbuffer[:n]
	} else {
		buf = make([]byte, n)
	}
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, base.NewParseError("too short data for %s, %v", what, err)
	}
	return buf, nil
}

func decodeData(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (data DlmsData, c int, err error) {
	switch tag {
	case TagNull:
		return DlmsData{Tag: tag}, 0, nil
	case TagArray, TagStructure:
		return decodeDataArray(src, tag, tmpbuffer)
	case TagBitString:
		return decodeBitString(src, tag, tmpbuffer)
	case TagOctetString:
		return decodeOctetString(src, tag, tmpbuffer)
	case TagVisibleString:
		return decodeVisibleString(src, tag, tmpbuffer)
	case TagUTF8String:
		return decodeUTF8String(src, tag, tmpbuffer)
	case TagCompactArray:
		return decodeCompactArray(src, tag, tmpbuffer)
	case TagDateTime:
		return decodeDateTimeValue(src, tag, tmpbuffer)
	case TagDate:
		return decodeDateValue(src, tag, tmpbuffer)
	case TagTime:
		return decodeTimeValue(src, tag, tmpbuffer)
	}
	if sd, ok := scalarDecoders[tag]; ok {
		b, err := readExact(src, tmpbuffer, sd.width, sd.what)
		if err != nil {
			return DlmsData{}, 0, err
		}
		return DlmsData{Tag: tag, Value: sd.parse(b)}, sd.width, nil
	}
	return data, 0, base.NewParseError("unknown tag %d", tag)
}

func decodeBitString(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	l, c, err := decodelength(src, tmpbuffer)
	if err != nil {
		return DlmsData{}, 0, err
	}
	blen := (l + 7) >> 3
	var tmp []byte
	if blen > uint(len(tmpbuffer)) {
		tmp = make([]byte, blen)
	} else {
		tmp = tmpbuffer[:blen]
	}
	if _, err := io.ReadFull(src, tmp); err != nil {
		return DlmsData{}, 0, base.NewParseError("too short data for bitstring %v", err)
	}
	val := make([]bool, l)
	off := uint(0)
	for i := uint(0); i < blen && off < l; i++ {
		for j := uint(0); j < 8 && off < l; j++ {
			val[off] = (tmp[i] & (1 << (7 - j))) != 0
			off++
		}
	}
	// this type is a bit questionable, better is maybe []bool ?, todo how to interpret that
	return DlmsData{Tag: tag, Value: val}, c + int(blen), nil
}

func decodeOctetString(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	l, c, err := decodelength(src, tmpbuffer)
	if err != nil {
		return DlmsData{}, 0, err
	}
	v := make([]byte, l)
	if _, err := io.ReadFull(src, v); err != nil {
		return DlmsData{}, 0, base.NewParseError("too short data for octet string %v", err)
	}
	return DlmsData{Tag: tag, Value: v}, c + int(l), nil
}

func decodeVisibleString(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	l, c, err := decodelength(src, tmpbuffer)
	if err != nil {
		return DlmsData{}, 0, err
	}
	v := make([]byte, l)
	if _, err := io.ReadFull(src, v); err != nil {
		return DlmsData{}, 0, base.NewParseError("too short data for visible string %v", err)
	}
	return DlmsData{Tag: tag, Value: string(v)}, c + int(l), nil
}

func decodeUTF8String(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	l, c, err := decodelength(src, tmpbuffer)
	if err != nil {
		return DlmsData{}, 0, err
	}
	reader := bufio.NewReader(io.LimitReader(src, int64(l)))
	var sb strings.Builder
	for uint(sb.Len()) < l {
		r, _, err := reader.ReadRune()
		if r == utf8.RuneError || err != nil {
			return DlmsData{}, 0, base.NewParseError("byte slice contain invalid UTF-8 runes")
		}
		sb.WriteRune(r)
	}
	return DlmsData{Tag: tag, Value: sb.String()}, c + int(l), nil
}

func decodeDateTimeValue(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	b, err := readExact(src, tmpbuffer, 12, "datetime")
	if err != nil {
		return DlmsData{}, 0, err
	}
	v := DlmsDateTime{
		Date: DlmsDate{
			Year:      uint16(b[0])<<8 | uint16(b[1]),
			Month:     b[2],
			Day:       b[3],
			DayOfWeek: b[4],
		},
		Time: DlmsTime{
			Hour:       b[5],
			Minute:     b[6],
			Second:     b[7],
			Hundredths: b[8],
		},
		Deviation: int16(b[9])<<8 | int16(b[10]), // signed
		Status:    b[11],
	}
	if err := validateDlmsDate(&v.Date); err != nil {
		return DlmsData{}, 0, err
	}
	if err := validateDlmsTime(&v.Time); err != nil {
		return DlmsData{}, 0, err
	}
	return DlmsData{Tag: tag, Value: v}, 12, nil
}

func decodeDateValue(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	b, err := readExact(src, tmpbuffer, 5, "date")
	if err != nil {
		return DlmsData{}, 0, err
	}
	v := DlmsDate{
		Year:      uint16(b[0])<<8 | uint16(b[1]),
		Month:     b[2],
		Day:       b[3],
		DayOfWeek: b[4],
	}
	if err := validateDlmsDate(&v); err != nil {
		return DlmsData{}, 0, err
	}
	return DlmsData{Tag: tag, Value: v}, 5, nil
}

func decodeTimeValue(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	b, err := readExact(src, tmpbuffer, 4, "time")
	if err != nil {
		return DlmsData{}, 0, err
	}
	v := DlmsTime{
		Hour:       b[0],
		Minute:     b[1],
		Second:     b[2],
		Hundredths: b[3],
	}
	if err := validateDlmsTime(&v); err != nil {
		return DlmsData{}, 0, err
	}
	return DlmsData{Tag: tag, Value: v}, 4, nil
}

// decodeCompactArray is kept as one function rather than split further: its
// three phases (element-type header, byte length, element traversal) share
// the running byte counter n and the ctag/types it derives, and the DLMS
// type itself is rare enough on the wire that the extra indirection of
// separate functions would cost more clarity than it buys.
func decodeCompactArray(src io.Reader, tag dataTag, tmpbuffer *tmpbuffer) (DlmsData, int, error) {
	n, err := io.ReadFull(src, tmpbuffer[:1])
	if err != nil {
		return DlmsData{}, 0, base.NewParseError("too short data for compact array %v", err)
	}
	ctag := dataTag(tmpbuffer[0])
	var types []dataTag
	if ctag == TagStructure { // determine structure items types
		l, c, err := decodelength(src, tmpbuffer)
		if err != nil {
			return DlmsData{}, 0, err
		}
		n += c
		var tmp []byte
		if uint(len(tmpbuffer)) < l {
			tmp = make([]byte, l)
		} else {
			tmp = tmpbuffer[:l]
		}
		if _, err := io.ReadFull(src, tmp); err != nil {
			return DlmsData{}, 0, base.NewParseError("too short data for compact array (number of structure items), %v", err)
		}
		types = make([]dataTag, l)
		for i := 0; i < int(l); i++ {
			types[i] = dataTag(tmp[i])
		}
		n += int(l)
	} else { // just bunch of items
		if ctag == TagNull {
			return DlmsData{}, 0, base.NewParseError("unable to decode compact array with null tag")
		}
		types = []dataTag{ctag}
	}

	// length in bytes, then slice it and traverse through slice till there is something left
	l, c, err := decodelength(src, tmpbuffer)
	if err != nil {
		return DlmsData{}, 0, base.NewParseError("too short data for compact array (length) %v", err)
	}
	n += c

	if l != 0 {
		if len(types) == 0 {
			return DlmsData{}, 0, base.NewParseError("no types for compact array")
		}
		if allNullTags(types) {
			return DlmsData{}, 0, base.NewParseError("unable to decode compact array with all null types")
		}
	}

	cntstr := io.LimitReader(src, int64(l))
	rem := int(l)
	n += rem
	items := make([]DlmsData, 0, 100) // maybe too much
	for rem > 0 {
		if ctag == TagStructure { // artifical structure with len(types) items
			str := make([]DlmsData, len(types))
			for i := 0; i < len(types); i++ {
				if rem <= 0 {
					return DlmsData{}, 0, base.NewParseError("there are no bytes left for another structure item")
				}
				var cc int
				str[i], cc, err = decodeData(cntstr, types[i], tmpbuffer)
				if err != nil {
					return DlmsData{}, 0, err
				}
				rem -= cc
			}
			items = append(items, DlmsData{Tag: TagStructure, Value: str})
		} else {
			item, cc, err := decodeData(cntstr, ctag, tmpbuffer)
			if err != nil {
				return DlmsData{}, 0, err
			}
			rem -= cc
			items = append(items, item)
		}
	}
	toret := DlmsCompactArray{tag: ctag, value: items}
	if ctag == TagStructure {
		toret.tags = types
	}
	return DlmsData{Tag: tag, Value: toret}, n, nil
}

func allNullTags(types []dataTag) bool {
	if len(types) == 0 {
		return false
	}
	for _, t := range types {
		if t != TagNull {
			return false
		}
	}
	return true
}

func EncodeData(d DlmsData) ([]byte, error) {
	var out bytes.Buffer
	if err := encodeData(&out, &d); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func encodeData(out *bytes.Buffer, d *DlmsData) error {
	if d == nil {
		return base.NewEncodeError("nil data") // no panic here
	}
	out.WriteByte(byte(d.Tag))
	return encodeDatanoTag(out, d)
}

// dataEncoders dispatches a tag to the function that writes its body (no
// tag byte). Entries sharing a writer (e.g. every plain-integer width)
// just close over the right width instead of repeating a case.
var dataEncoders = map[dataTag]func(*bytes.Buffer, *DlmsData) error{
	TagNull:               func(*bytes.Buffer, *DlmsData) error { return nil },
	TagArray:              encodeArrayStructure,
	TagStructure:          encodeArrayStructure,
	TagBoolean:            func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 1) },
	TagBitString:          encodeBitstring,
	TagDoubleLong:         func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 4) },
	TagDoubleLongUnsigned: func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 4) },
	TagFloatingPoint:      func(out *bytes.Buffer, d *DlmsData) error { return encodeFloat(out, d, 4) },
	TagOctetString:        encodeOctetString,
	TagVisibleString:      encodeVisibleString,
	TagUTF8String:         encodeVisibleString,
	TagBCD:                encodeBCD,
	TagInteger:            func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 1) },
	TagLong:               func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 2) },
	TagUnsigned:           func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 1) },
	TagLongUnsigned:       func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 2) },
	TagCompactArray:       encodeCompactArray,
	TagLong64:             func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 8) },
	TagLong64Unsigned:     func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 8) },
	TagEnum:               func(out *bytes.Buffer, d *DlmsData) error { return encodeInteger(out, d, 1) },
	TagFloat32:            func(out *bytes.Buffer, d *DlmsData) error { return encodeFloat(out, d, 4) },
	TagFloat64:            func(out *bytes.Buffer, d *DlmsData) error { return encodeFloat(out, d, 8) },
	TagDateTime:           encodeDateTime,
	TagDate:               encodeDate,
	TagTime:               encodeTime,
}

func encodeDatanoTag(out *bytes.Buffer, d *DlmsData) error {
	enc, ok := dataEncoders[d.Tag]
	if !ok {
		return base.NewEncodeError("unsupported data tag: %v", d.Tag)
	}
	return enc(out, d)
}

func encodeDateTime(out *bytes.Buffer, d *DlmsData) error {
	switch t := d.Value.(type) {
	case time.Time:
		dt := NewDlmsDateTimeFromTime(t)
		encodedatetime(out, &dt)
	case DlmsDateTime:
		encodedatetime(out, &t)
	case *DlmsDateTime:
		encodedatetime(out, t)
	default:
		return base.NewEncodeError("unsupported data type for date time: %T", d.Value)
	}
	return nil
}

func encodeDate(out *bytes.Buffer, d *DlmsData) error {
	switch t := d.Value.(type) {
	case DlmsDate:
		encodedate(out, &t)
	case *DlmsDate:
		encodedate(out, t)
	default:
		return base.NewEncodeError("unsupported data type for date: %T", d.Value)
	}
	return nil
}

func encodeTime(out *bytes.Buffer, d *DlmsData) error {
	switch t := d.Value.(type) {
	case DlmsTime:
		encodetime(out, &t)
	case *DlmsTime:
		encodetime(out, t)
	default:
		return base.NewEncodeError("unsupported data type for time: %T", d.Value)
	}
	return nil
}

func asCompactArray(v interface{}) (*DlmsCompactArray, error) {
	switch t := v.(type) {
	case DlmsCompactArray:
		return &t, nil
	case *DlmsCompactArray:
		return t, nil
	default:
		return nil, base.NewEncodeError("unsupported data type for compact array: %T", v)
	}
}

func encodeCompactArray(out *bytes.Buffer, d *DlmsData) error {
	input, err := asCompactArray(d.Value)
	if err != nil {
		return err
	}
	if input.tag == TagStructure && input.tags == nil {
		return base.NewEncodeError("no structure tags provided")
	}

	for _, t := range input.value {
		if t.Tag != input.tag {
			return base.NewEncodeError("data tag differs, unable to perform encoding compact array")
		}
		if input.tag != TagStructure {
			continue
		}
		tmp, err := getstructuretypes(&t)
		if err != nil {
			return err
		}
		if len(tmp) != len(input.tags) {
			return base.NewEncodeError("inner structure differs")
		}
		for i, jj := range tmp {
			if jj != input.tags[i] {
				return base.NewEncodeError("inner structure differs")
			}
		}
	}

	if input.tag == TagNull || len(input.tags) == 0 {
		return base.NewEncodeError("unable to encode compact array with null tag")
	}
	if allNullTags(input.tags) {
		return base.NewEncodeError("unable to decode compact array with all null types")
	}

	out.WriteByte(byte(input.tag))
	if input.tag == TagStructure {
		encodelength(out, uint(len(input.tags)))
		for _, tt := range input.tags {
			out.WriteByte(byte(tt))
		}
	}
	if len(input.value) == 0 {
		out.WriteByte(0) // zero items, not commonly exercised but valid per the wire format
		return nil
	}

	var internal bytes.Buffer
	writeItem := encodeDatanoTag
	if input.tag == TagStructure {
		writeItem = encodeStructureWithoutTags
	}
	for _, dd := range input.value {
		if err := writeItem(&internal, &dd); err != nil {
			return err
		}
	}
	encodelength(out, uint(internal.Len()))
	out.Write(internal.Bytes())
	return nil
}

func encodeStructureWithoutTags(out *bytes.Buffer, d *DlmsData) error {
	switch t := d.Value.(type) {
	case []*DlmsData:
		for _, dd := range t {
			if err := encodeDatanoTag(out, dd); err != nil {
				return err
			}
		}
	case []DlmsData:
		for _, dd := range t {
			if err := encodeDatanoTag(out, &dd); err != nil {
				return err
			}
		}
	default:
		return base.NewEncodeError("programm error")
	}
	return nil
}

func getstructuretypes(d *DlmsData) ([]dataTag, error) {
	if d.Tag != TagStructure {
		return nil, base.NewEncodeError("data are not a structure")
	}
	switch t := d.Value.(type) {
	case []*DlmsData:
		r := make([]dataTag, len(t))
		for i, dt := range t {
			r[i] = dt.Tag
		}
		return r, nil
	case []DlmsData:
		r := make([]dataTag, len(t))
		for i, dt := range t {
			r[i] = dt.Tag
		}
		return r, nil
	default:
		return nil, base.NewEncodeError("invalid inner structure data")
	}
}

func encodeBCD(out *bytes.Buffer, d *DlmsData) error {
	var lr int64
	switch t := d.Value.(type) {
	case int:
		lr = int64(t)
	case int8:
		lr = int64(t)
	case int16:
		lr = int64(t)
	case int32:
		lr = int64(t)
	case int64:
		lr = t
	default:
		return base.NewEncodeError("unsupported data type for BCD: %T", d.Value)
	}
	neg := lr < 0
	if neg {
		lr = -lr
	}
	b := byte(lr%10) | byte((lr/10)%10)<<4
	if neg {
		b |= 0x80
	}
	out.WriteByte(b)
	return nil
}

func encodeVisibleString(out *bytes.Buffer, d *DlmsData) error {
	s, ok := d.Value.(string)
	if !ok {
		return base.NewEncodeError("unsupported data type for visible string: %T", d.Value)
	}
	encodelength(out, uint(len(s)))
	out.WriteString(s)
	return nil
}

func encodeOctetString(out *bytes.Buffer, d *DlmsData) error {
	switch t := d.Value.(type) {
	case []byte:
		encodelength(out, uint(len(t)))
		out.Write(t)
	case DlmsDateTime:
		encodelength(out, 12)
		encodedatetime(out, &t)
	case *DlmsDateTime:
		encodelength(out, 12)
		encodedatetime(out, t)
	case DlmsObis:
		encodeobis(out, &t)
	case *DlmsObis:
		encodeobis(out, t)
	case time.Time:
		dt := NewDlmsDateTimeFromTime(t)
		encodedatetime(out, &dt)
	default:
		return base.NewEncodeError("unsupported data type for octet string: %T", d.Value)
	}
	return nil
}

func encodeobis(out *bytes.Buffer, t *DlmsObis) {
	encodelength(out, 6)
	out.WriteByte(t.A)
	out.WriteByte(t.B)
	out.WriteByte(t.C)
	out.WriteByte(t.D)
	out.WriteByte(t.E)
	out.WriteByte(t.F)
}

func encodetime(out *bytes.Buffer, t *DlmsTime) {
	out.WriteByte(t.Hour)
	out.WriteByte(t.Minute)
	out.WriteByte(t.Second)
	out.WriteByte(t.Hundredths)
}

func encodedate(out *bytes.Buffer, t *DlmsDate) {
	out.WriteByte(byte(t.Year >> 8))
	out.WriteByte(byte(t.Year))
	out.WriteByte(t.Month)
	out.WriteByte(t.Day)
	out.WriteByte(t.DayOfWeek)
}

func encodedatetime(out *bytes.Buffer, t *DlmsDateTime) {
	encodedate(out, &t.Date)
	encodetime(out, &t.Time)
	out.WriteByte(byte(t.Deviation >> 8))
	out.WriteByte(byte(t.Deviation))
	out.WriteByte(t.Status)
}

func encodeFloat(out *bytes.Buffer, d *DlmsData, width int) error {
	if width != 4 && width != 8 {
		return base.NewEncodeError("strange target float length: %v", width)
	}
	switch t := d.Value.(type) {
	case float32:
		if width == 8 {
			_ = binary.Write(out, binary.BigEndian, float64(t))
		} else {
			_ = binary.Write(out, binary.BigEndian, t)
		}
	case float64:
		if width == 4 {
			_ = binary.Write(out, binary.BigEndian, float32(t))
		} else {
			_ = binary.Write(out, binary.BigEndian, t)
		}
	default:
		return base.NewEncodeError("unsupported data type for float: %T", d.Value)
	}
	return nil
}

// packBits renders bits (MSB-first within each byte) into the packed form
// DLMS bit-strings and selective-access masks share.
func packBits(bits []bool) []byte {
	res := make([]byte, (len(bits)+7)>>3)
	o := 7
	b := byte(0)
	for i, set := range bits {
		if set {
			b |= 1 << o
		}
		if o == 0 {
			res[i>>3] = b
			b = 0
			o = 7
		} else {
			o--
		}
	}
	if o != 7 {
		res[len(res)-1] = b
	}
	return res
}

func encodeBitstring(out *bytes.Buffer, d *DlmsData) error {
	var bits []bool
	switch t := d.Value.(type) {
	case string:
		bits = make([]bool, len(t))
		for i, c := range t {
			switch c {
			case '0':
			case '1':
				bits[i] = true
			default:
				return base.NewEncodeError("invalid character in bitstring: %c", c)
			}
		}
	case []bool:
		bits = t
	default:
		return base.NewEncodeError("unsupported data type for bitstring: %T", d.Value)
	}
	encodelength(out, uint(len(bits)))
	out.Write(packBits(bits))
	return nil
}

func encodeInteger(out *bytes.Buffer, d *DlmsData, width int) error {
	var lr uint64
	switch t := d.Value.(type) {
	case bool:
		if t {
			lr = 1
		}
	case uint:
		lr = uint64(t)
	case uint8:
		lr = uint64(t)
	case uint16:
		lr = uint64(t)
	case uint32:
		lr = uint64(t)
	case uint64:
		lr = t
	case int:
		lr = uint64(int64(t)) // i know it exapnds signed bits, but i like it that way
	case int8:
		lr = uint64(int64(t))
	case int16:
		lr = uint64(int64(t))
	case int32:
		lr = uint64(int64(t))
	case int64:
		lr = uint64(t)
	default:
		return base.NewEncodeError("unsupported data type for unsigned number: %T", d.Value)
	}
	switch width {
	case 1:
		out.WriteByte(byte(lr))
	case 2:
		_ = binary.Write(out, binary.BigEndian, uint16(lr))
	case 4:
		_ = binary.Write(out, binary.BigEndian, uint32(lr))
	case 8:
		_ = binary.Write(out, binary.BigEndian, lr)
	default:
		return base.NewEncodeError("strange target number length: %v", width)
	}
	return nil
}

func encodeArrayStructure(out *bytes.Buffer, d *DlmsData) error {
	if d.Value == nil {
		encodelength(out, 0)
		return nil
	}
	switch t := d.Value.(type) {
	case []*DlmsData:
		encodelength(out, uint(len(t)))
		for _, v := range t {
			if err := encodeData(out, v); err != nil {
				return err
			}
		}
	case []DlmsData:
		encodelength(out, uint(len(t)))
		for _, v := range t {
			if err := encodeData(out, &v); err != nil {
				return err
			}
		}
	default:
		return base.NewEncodeError("unsupported data type for array/structure: %T", d.Value)
	}
	return nil
}
