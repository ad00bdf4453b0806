package dlmsal

import (
	"fmt"
	"reflect"
	"time"

	"github.com/gridmeter/dlms-go/base"
)

// Cast decodes a decoded DlmsData tree into trg, which must be a non-nil
// pointer. Structs, slices, pointers and the handful of COSEM-flavored
// leaf types (DlmsDateTime, DlmsObis, time.Time, Value) recurse or convert
// as appropriate; anything else is matched against trg's reflect.Kind.
func Cast(trg any, data DlmsData) error {
	r := reflect.ValueOf(trg)
	if r.Kind() != reflect.Pointer || r.IsNil() {
		return base.NewEncodeError("cast target must be a non-nil pointer, got %T", trg)
	}
	return recast(reflect.Indirect(r), &data)
}

// recast dispatches on trg's concrete type first (a handful of COSEM leaf
// types need custom conversion logic that reflect.Kind alone can't drive),
// then falls back to the generic reflect.Kind switch below.
func recast(trg reflect.Value, data *DlmsData) error {
	switch trg.Interface().(type) {
	case DlmsData:
		trg.Set(reflect.ValueOf(*data))
		return nil
	case time.Time:
		return recasttime(trg, data)
	case DlmsDateTime:
		return recastdatetime(trg, data)
	case DlmsObis:
		return recastobis(trg, data)
	case Value:
		return recastvalue(trg, data)
	}

	switch trg.Kind() {
	case reflect.Pointer:
		elem := reflect.New(trg.Type().Elem())
		if err := recast(reflect.Indirect(elem), data); err != nil {
			return err
		}
		trg.Set(elem)
		return nil
	case reflect.Bool:
		return recastbool(trg, data)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return recastint(trg, data)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return recastuint(trg, data)
	case reflect.Float32, reflect.Float64:
		return recastfloat(trg, data)
	case reflect.String:
		return recaststring(trg, data)
	case reflect.Slice:
		return recastslice(trg, data)
	case reflect.Struct:
		return recaststruct(trg, data)
	default:
		return base.NewEncodeError("cast: unsupported target kind %v", trg.Kind())
	}
}

func dateTimeBytes(data *DlmsData) ([]byte, error) {
	b, ok := data.Value.([]byte)
	if !ok {
		return nil, base.NewInvalidResponseDataError("cast: source type %T cannot represent a date-time", data.Value)
	}
	if len(b) != 12 {
		return nil, base.NewInvalidResponseDataError("cast: date-time octet-string must be 12 bytes, got %d", len(b))
	}
	return b, nil
}

func recasttime(trg reflect.Value, data *DlmsData) error {
	switch b := data.Value.(type) {
	case []byte:
		raw, err := dateTimeBytes(data)
		if err != nil {
			return err
		}
		dt, err := NewDlmsDateTimeFromSlice(raw)
		if err != nil {
			return err
		}
		tt, err := dt.AsTime()
		if err != nil {
			return err
		}
		trg.Set(reflect.ValueOf(tt))
		return nil
	case DlmsDateTime:
		tt, err := b.AsTime()
		if err != nil {
			return err
		}
		trg.Set(reflect.ValueOf(tt))
		return nil
	default:
		return base.NewInvalidResponseDataError("cast: source type %T cannot represent a time.Time", b)
	}
}

func recastdatetime(trg reflect.Value, data *DlmsData) error {
	switch b := data.Value.(type) {
	case []byte:
		raw, err := dateTimeBytes(data)
		if err != nil {
			return err
		}
		dt, err := NewDlmsDateTimeFromSlice(raw)
		if err != nil {
			return err
		}
		trg.Set(reflect.ValueOf(dt))
		return nil
	case DlmsDateTime:
		trg.Set(reflect.ValueOf(b))
		return nil
	default:
		return base.NewInvalidResponseDataError("cast: source type %T cannot represent a DlmsDateTime", b)
	}
}

func recastobis(trg reflect.Value, data *DlmsData) error {
	b, ok := data.Value.([]byte)
	if !ok {
		return base.NewInvalidResponseDataError("cast: source type %T cannot represent an obis code", data.Value)
	}
	if len(b) != 6 {
		return base.NewInvalidResponseDataError("cast: obis octet-string must be 6 bytes, got %d", len(b))
	}
	obis, err := NewDlmsObisFromSlice(b)
	if err != nil {
		return err
	}
	trg.Set(reflect.ValueOf(obis))
	return nil
}

func recaststruct(trg reflect.Value, data *DlmsData) error {
	v, ok := data.Value.([]DlmsData)
	if !ok {
		return base.NewInvalidResponseDataError("cast: struct target needs a structure/array value, got %T", data.Value)
	}
	if trg.NumField() != len(v) {
		return base.NewInvalidResponseDataError("cast: struct has %d fields, data has %d elements", trg.NumField(), len(v))
	}

	for i := range v {
		ft := trg.Type().Field(i)
		if !ft.IsExported() {
			continue
		}
		field := trg.Field(i)
		if field.Kind() == reflect.Pointer {
			switch {
			case v[i].Tag != TagNull && field.IsNil():
				field.Set(reflect.New(field.Type().Elem()))
			case v[i].Tag == TagNull && !field.IsNil():
				field.Set(reflect.Zero(field.Type()))
			}
		} else if v[i].Tag == TagNull {
			return base.NewInvalidResponseDataError("cast: field %s is not a pointer but data carries a null tag", ft.Name)
		}

		if v[i].Tag == TagNull {
			continue
		}
		if err := recast(reflect.Indirect(field), &v[i]); err != nil {
			return base.NewInvalidResponseDataError("cast: field %s: %v", ft.Name, err)
		}
	}
	return nil
}

func recastslice(trg reflect.Value, data *DlmsData) error {
	switch v := data.Value.(type) {
	case []byte:
		if trg.Type() != reflect.TypeOf([]byte{}) {
			return base.NewInvalidResponseDataError("cast: cannot assign octet-string to %v", trg.Type())
		}
		if trg.IsNil() || trg.Cap() < len(v) {
			trg.Set(reflect.MakeSlice(trg.Type(), len(v), len(v)))
		} else {
			trg.SetLen(len(v))
		}
		copy(trg.Bytes(), v)
		return nil
	case []DlmsData:
		if trg.IsNil() || trg.Cap() < len(v) {
			trg.Set(reflect.MakeSlice(trg.Type(), len(v), len(v)))
		} else {
			trg.SetLen(len(v))
		}
		for i := range v {
			elem := trg.Index(i)
			if elem.Kind() == reflect.Pointer && elem.IsNil() {
				elem.Set(reflect.New(elem.Type().Elem()))
			}
			if err := recast(reflect.Indirect(elem), &v[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return base.NewInvalidResponseDataError("cast: unexpected source type %T for slice target", v)
	}
}

func recaststring(trg reflect.Value, data *DlmsData) error {
	switch v := data.Value.(type) {
	case string:
		trg.SetString(v)
		return nil
	case []byte:
		trg.SetString(string(v))
		return nil
	case []DlmsData:
		return base.NewInvalidResponseDataError("cast: cannot represent a structure/array as a string")
	default:
		trg.SetString(fmt.Sprintf("%v", v))
		return nil
	}
}

func recastvalue(trg reflect.Value, data *DlmsData) error {
	value := Value{Type: Unknown}
	switch v := data.Value.(type) {
	case bool:
		value.Type, value.Value = Boolean, v
	case int8:
		value.Type, value.Value = SignedInt, int64(v)
	case int16:
		value.Type, value.Value = SignedInt, int64(v)
	case int32:
		value.Type, value.Value = SignedInt, int64(v)
	case int64:
		value.Type, value.Value = SignedInt, v
	case uint8:
		value.Type, value.Value = UnsignedInt, uint64(v)
	case uint16:
		value.Type, value.Value = UnsignedInt, uint64(v)
	case uint32:
		value.Type, value.Value = UnsignedInt, uint64(v)
	case uint64:
		value.Type, value.Value = UnsignedInt, v
	case float32:
		value.Type, value.Value = Real, float64(v)
	case float64:
		value.Type, value.Value = Real, v
	case string:
		value.Type, value.Value = String, v
	case []byte:
		if len(v) == 12 {
			if dt, err := NewDlmsDateTimeFromSlice(v); err == nil {
				value.Type, value.Value = DateTime, dt
				break
			}
		}
		value.Type, value.Value = String, string(v)
	default:
		return base.NewInvalidResponseDataError("cast: unexpected source type %T for Value target", v)
	}
	trg.Set(reflect.ValueOf(value))
	return nil
}

func recastbool(trg reflect.Value, data *DlmsData) error {
	switch v := data.Value.(type) {
	case bool:
		trg.SetBool(v)
	case int8:
		trg.SetBool(v != 0)
	case int16:
		trg.SetBool(v != 0)
	case int32:
		trg.SetBool(v != 0)
	case int64:
		trg.SetBool(v != 0)
	case uint8:
		trg.SetBool(v != 0)
	case uint16:
		trg.SetBool(v != 0)
	case uint32:
		trg.SetBool(v != 0)
	case uint64:
		trg.SetBool(v != 0)
	default:
		return base.NewInvalidResponseDataError("cast: unexpected source type %T for bool target", v)
	}
	return nil
}

func recastint(trg reflect.Value, data *DlmsData) error {
	switch v := data.Value.(type) {
	case bool:
		trg.SetInt(boolToInt64(v))
	case int8:
		trg.SetInt(int64(v))
	case int16:
		trg.SetInt(int64(v))
	case int32:
		trg.SetInt(int64(v))
	case int64:
		trg.SetInt(v)
	default:
		return base.NewInvalidResponseDataError("cast: unexpected source type %T for int target", v)
	}
	return nil
}

func recastuint(trg reflect.Value, data *DlmsData) error {
	switch v := data.Value.(type) {
	case bool:
		trg.SetUint(uint64(boolToInt64(v)))
	case uint8:
		trg.SetUint(uint64(v))
	case uint16:
		trg.SetUint(uint64(v))
	case uint32:
		trg.SetUint(uint64(v))
	case uint64:
		trg.SetUint(v)
	default:
		return base.NewInvalidResponseDataError("cast: unexpected source type %T for uint target", v)
	}
	return nil
}

func recastfloat(trg reflect.Value, data *DlmsData) error {
	switch v := data.Value.(type) {
	case bool:
		trg.SetFloat(float64(boolToInt64(v)))
	case float32:
		trg.SetFloat(float64(v))
	case float64:
		trg.SetFloat(v)
	case int8:
		trg.SetFloat(float64(v))
	case int16:
		trg.SetFloat(float64(v))
	case int32:
		trg.SetFloat(float64(v))
	case int64:
		trg.SetFloat(float64(v))
	default:
		return base.NewInvalidResponseDataError("cast: unexpected source type %T for float target", v)
	}
	return nil
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
