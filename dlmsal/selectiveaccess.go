package dlmsal

import "github.com/gridmeter/dlms-go/base"

// Access-selection selector bytes (§4.6). These ride alongside the Data
// tree in a DlmsLNRequestItem/DlmsSNRequestItem's AccessDescriptor field.
const (
	AccessSelectorRange byte = 1
	AccessSelectorEntry byte = 2
)

// CaptureObjectDefinition names one column of a ProfileGeneric buffer:
// the object (class-id + OBIS + attribute) plus the object's version,
// exactly as it appears inside a RangeDescriptor.
type CaptureObjectDefinition struct {
	ClassId   uint16
	Obis      DlmsObis
	Attribute int8
	Version   uint16
}

// EncodeCaptureObject builds the structure {class-id, obis, attribute-id,
// version} that both restricting-object and selected-values entries use.
func EncodeCaptureObject(classId uint16, obis DlmsObis, attribute int8, version uint16) DlmsData {
	ch := make([]DlmsData, 4)
	ch[0] = DlmsData{Tag: TagLongUnsigned, Value: classId}
	ch[1] = DlmsData{Tag: TagOctetString, Value: obis}
	ch[2] = DlmsData{Tag: TagInteger, Value: attribute}
	ch[3] = DlmsData{Tag: TagLongUnsigned, Value: version}
	return DlmsData{Tag: TagStructure, Value: ch}
}

func parseCaptureObject(d DlmsData) (CaptureObjectDefinition, error) {
	var out CaptureObjectDefinition
	ch, ok := d.Value.([]DlmsData)
	if d.Tag != TagStructure || !ok || len(ch) != 4 {
		return out, base.NewParseError("selective access: malformed capture object definition")
	}
	classId, ok := ch[0].Value.(uint16)
	if !ok {
		return out, base.NewParseError("selective access: capture object class-id has wrong type")
	}
	obis, ok := ch[1].Value.(DlmsObis)
	if !ok {
		if raw, ok2 := ch[1].Value.([]byte); ok2 {
			var err error
			if obis, err = NewDlmsObisFromSlice(raw); err != nil {
				return out, base.NewParseError("selective access: %w", err)
			}
		} else {
			return out, base.NewParseError("selective access: capture object obis has wrong type")
		}
	}
	attr, ok := ch[2].Value.(int8)
	if !ok {
		return out, base.NewParseError("selective access: capture object attribute has wrong type")
	}
	version, ok := ch[3].Value.(uint16)
	if !ok {
		return out, base.NewParseError("selective access: capture object version has wrong type")
	}
	return CaptureObjectDefinition{ClassId: classId, Obis: obis, Attribute: attr, Version: version}, nil
}

// asDlmsDateTime interprets an OctetString field holding the 12-byte
// wire form of a date-time. Encode() stores the typed value directly;
// a value just decoded off the wire arrives as raw bytes instead, since
// OctetString's interpretation is context-dependent for the generic
// Data codec.
func asDlmsDateTime(d DlmsData) (DlmsDateTime, error) {
	switch v := d.Value.(type) {
	case DlmsDateTime:
		return v, nil
	case []byte:
		return NewDlmsDateTimeFromSlice(v)
	default:
		return DlmsDateTime{}, base.NewParseError("unexpected type %T", d.Value)
	}
}

// clockCaptureObject is the standard Clock object (class 8, OBIS
// 0-0:1.0.0.255, attribute 2) used as the restricting-object of a
// date-range profile read.
var clockCaptureObject = CaptureObjectDefinition{
	ClassId:   8,
	Obis:      DlmsObis{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255},
	Attribute: 2,
}

// RangeDescriptor restricts a ProfileGeneric buffer read to entries whose
// restricting-object value (normally the Clock) falls within [From, To].
// SelectedValues optionally narrows the returned columns.
type RangeDescriptor struct {
	RestrictingObject CaptureObjectDefinition
	From              DlmsDateTime
	To                DlmsDateTime
	SelectedValues    []CaptureObjectDefinition
}

// NewClockRangeDescriptor builds a RangeDescriptor restricted on the
// standard Clock object, the common case for reading a profile by date
// range (§4.7's read_profile).
func NewClockRangeDescriptor(from, to DlmsDateTime) RangeDescriptor {
	return RangeDescriptor{RestrictingObject: clockCaptureObject, From: from, To: to}
}

// Encode renders the descriptor into the Data tree carried as
// access-selection.parameters. The selector byte (1) is returned
// alongside it for convenience.
func (r RangeDescriptor) Encode() (selector byte, parameters DlmsData) {
	sel := make([]DlmsData, len(r.SelectedValues))
	for i, v := range r.SelectedValues {
		sel[i] = EncodeCaptureObject(v.ClassId, v.Obis, v.Attribute, v.Version)
	}
	ch := []DlmsData{
		EncodeCaptureObject(r.RestrictingObject.ClassId, r.RestrictingObject.Obis, r.RestrictingObject.Attribute, r.RestrictingObject.Version),
		{Tag: TagOctetString, Value: r.From},
		{Tag: TagOctetString, Value: r.To},
		{Tag: TagArray, Value: sel},
	}
	return AccessSelectorRange, DlmsData{Tag: TagStructure, Value: ch}
}

// ParseRangeDescriptor reverses Encode. selector must be AccessSelectorRange.
func ParseRangeDescriptor(selector byte, parameters DlmsData) (RangeDescriptor, error) {
	var out RangeDescriptor
	if selector != AccessSelectorRange {
		return out, base.NewParseError("selective access: selector %d is not a range descriptor", selector)
	}
	ch, ok := parameters.Value.([]DlmsData)
	if parameters.Tag != TagStructure || !ok || len(ch) != 4 {
		return out, base.NewParseError("selective access: malformed range descriptor")
	}
	restrict, err := parseCaptureObject(ch[0])
	if err != nil {
		return out, err
	}
	from, err := asDlmsDateTime(ch[1])
	if err != nil {
		return out, base.NewParseError("selective access: range descriptor from_value: %w", err)
	}
	to, err := asDlmsDateTime(ch[2])
	if err != nil {
		return out, base.NewParseError("selective access: range descriptor to_value: %w", err)
	}
	var selected []CaptureObjectDefinition
	if ch[3].Tag == TagArray {
		items, _ := ch[3].Value.([]DlmsData)
		selected = make([]CaptureObjectDefinition, len(items))
		for i, it := range items {
			selected[i], err = parseCaptureObject(it)
			if err != nil {
				return out, err
			}
		}
	}
	return RangeDescriptor{RestrictingObject: restrict, From: from, To: to, SelectedValues: selected}, nil
}

// EntryDescriptor pages a ProfileGeneric buffer by row/column index
// instead of by date range.
type EntryDescriptor struct {
	FromEntry         uint32
	ToEntry           uint32
	FromSelectedValue uint16
	ToSelectedValue   uint16
}

// Encode renders the descriptor into the Data tree carried as
// access-selection.parameters, alongside its selector byte (2).
func (e EntryDescriptor) Encode() (selector byte, parameters DlmsData) {
	ch := []DlmsData{
		{Tag: TagDoubleLongUnsigned, Value: e.FromEntry},
		{Tag: TagDoubleLongUnsigned, Value: e.ToEntry},
		{Tag: TagLongUnsigned, Value: e.FromSelectedValue},
		{Tag: TagLongUnsigned, Value: e.ToSelectedValue},
	}
	return AccessSelectorEntry, DlmsData{Tag: TagStructure, Value: ch}
}

// ParseEntryDescriptor reverses Encode. selector must be AccessSelectorEntry.
func ParseEntryDescriptor(selector byte, parameters DlmsData) (EntryDescriptor, error) {
	var out EntryDescriptor
	if selector != AccessSelectorEntry {
		return out, base.NewParseError("selective access: selector %d is not an entry descriptor", selector)
	}
	ch, ok := parameters.Value.([]DlmsData)
	if parameters.Tag != TagStructure || !ok || len(ch) != 4 {
		return out, base.NewParseError("selective access: malformed entry descriptor")
	}
	fromEntry, ok := ch[0].Value.(uint32)
	if !ok {
		return out, base.NewParseError("selective access: entry descriptor from_entry has wrong type")
	}
	toEntry, ok := ch[1].Value.(uint32)
	if !ok {
		return out, base.NewParseError("selective access: entry descriptor to_entry has wrong type")
	}
	fromVal, ok := ch[2].Value.(uint16)
	if !ok {
		return out, base.NewParseError("selective access: entry descriptor from_selected_value has wrong type")
	}
	toVal, ok := ch[3].Value.(uint16)
	if !ok {
		return out, base.NewParseError("selective access: entry descriptor to_selected_value has wrong type")
	}
	return EntryDescriptor{FromEntry: fromEntry, ToEntry: toEntry, FromSelectedValue: fromVal, ToSelectedValue: toVal}, nil
}

// EncodeSimpleRangeAccess preserves the pre-existing shorthand: a range
// descriptor restricted on the standard Clock object with no selected
// columns, returning only the parameters Data (selector is always 1).
func EncodeSimpleRangeAccess(from *DlmsDateTime, to *DlmsDateTime) DlmsData {
	_, parameters := NewClockRangeDescriptor(*from, *to).Encode()
	return parameters
}
