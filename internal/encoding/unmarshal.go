package encoding

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/rhs/amqp/internal/buffer"
)

// ErrTruncated is returned by Unmarshal and ReadAny when the buffer does not
// yet contain a complete encoded value. Callers reading frames off a
// streaming transport treat it as "read more and retry", not as a protocol
// error.
var ErrTruncated = errors.New("amqp: truncated value")

// Unmarshaler is implemented by composite types that decode themselves.
type Unmarshaler interface {
	Unmarshal(r *buffer.Buffer) error
}

// Unmarshal decodes the next value from r into v, which must be a pointer
// to a supported Go type, an Unmarshaler, or *interface{} (in which case
// ReadAny's result is stored).
func Unmarshal(r *buffer.Buffer, v interface{}) error {
	switch t := v.(type) {
	case Unmarshaler:
		return t.Unmarshal(r)

	case *interface{}:
		val, err := ReadAny(r)
		if err != nil {
			return err
		}
		*t = val
		return nil

	case *bool:
		val, err := readBool(r)
		if err != nil {
			return err
		}
		*t = val
		return nil

	case *uint8:
		return readFixedInto(r, t, readUbyte)
	case *uint16:
		return readFixedInto(r, t, readUshort)
	case *uint32:
		return readFixedInto(r, t, readUint)
	case *uint64:
		return readFixedInto(r, t, readUlong)
	case *int8:
		return readFixedInto(r, t, readSbyte)
	case *int16:
		return readFixedInto(r, t, readShort)
	case *int32:
		return readFixedInto(r, t, readIntVal)
	case *int64:
		return readFixedInto(r, t, readLong)
	case *int:
		var n int64
		if err := readFixedInto(r, &n, readLong); err != nil {
			return err
		}
		*t = int(n)
		return nil
	case *float32:
		code, ok := r.PeekByte()
		if !ok {
			return ErrTruncated
		}
		if TypeCode(code) == TypeCodeNull {
			r.Skip(1)
			*t = 0
			return nil
		}
		r.Skip(1)
		bits, ok := r.ReadUint32()
		if !ok {
			return ErrTruncated
		}
		*t = math.Float32frombits(bits)
		return nil
	case *float64:
		code, ok := r.PeekByte()
		if !ok {
			return ErrTruncated
		}
		if TypeCode(code) == TypeCodeNull {
			r.Skip(1)
			*t = 0
			return nil
		}
		r.Skip(1)
		bits, ok := r.ReadUint64()
		if !ok {
			return ErrTruncated
		}
		*t = math.Float64frombits(bits)
		return nil

	case *string:
		s, err := readString(r)
		if err != nil {
			return err
		}
		*t = s
		return nil
	case *Symbol:
		s, err := readSymbol(r)
		if err != nil {
			return err
		}
		*t = s
		return nil
	case *MultiSymbol:
		syms, err := readMultiSymbol(r)
		if err != nil {
			return err
		}
		*t = syms
		return nil
	case *ExpiryPolicy:
		s, err := readSymbol(r)
		if err != nil {
			return err
		}
		*t = ExpiryPolicy(s)
		return nil
	case *[]byte:
		b, err := readBinary(r)
		if err != nil {
			return err
		}
		*t = b
		return nil

	case *Durability:
		var n uint32
		if err := readFixedInto(r, &n, readUint); err != nil {
			return err
		}
		*t = Durability(n)
		return nil
	case *Milliseconds:
		var n uint32
		if err := readFixedInto(r, &n, readUint); err != nil {
			return err
		}
		*t = Milliseconds(n)
		return nil
	case *Role:
		b, err := readBool(r)
		if err != nil {
			return err
		}
		*t = Role(b)
		return nil
	case *SenderSettleMode:
		var n uint8
		if err := readFixedInto(r, &n, readUbyte); err != nil {
			return err
		}
		*t = SenderSettleMode(n)
		return nil
	case *ReceiverSettleMode:
		var n uint8
		if err := readFixedInto(r, &n, readUbyte); err != nil {
			return err
		}
		*t = ReceiverSettleMode(n)
		return nil

	case *Fields:
		m, err := readGenericMap(r)
		if err != nil {
			return err
		}
		f := make(Fields, len(m))
		for k, v := range m {
			if sym, ok := k.(Symbol); ok {
				f[sym] = v
			}
		}
		*t = f
		return nil
	case *Filter:
		m, err := readGenericMap(r)
		if err != nil {
			return err
		}
		f := make(Filter, len(m))
		for k, v := range m {
			if sym, ok := k.(Symbol); ok {
				f[sym] = v
			}
		}
		*t = f
		return nil

	case *[]interface{}:
		items, err := readList(r)
		if err != nil {
			return err
		}
		*t = items
		return nil

	case *DeliveryState:
		val, err := ReadAny(r)
		if err != nil {
			return err
		}
		if val == nil {
			*t = nil
			return nil
		}
		ds, ok := val.(DeliveryState)
		if !ok {
			return fmt.Errorf("amqp: expected delivery-state, got %T", val)
		}
		*t = ds
		return nil

	default:
		return fmt.Errorf("amqp: unmarshal: unsupported target type %T", v)
	}
}

func readFixedInto[T any](r *buffer.Buffer, out *T, read func(*buffer.Buffer) (T, error)) error {
	v, err := read(r)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

func readTypeCode(r *buffer.Buffer) (TypeCode, error) {
	b, ok := r.ReadByte()
	if !ok {
		return 0, ErrTruncated
	}
	return TypeCode(b), nil
}

func readBool(r *buffer.Buffer) (bool, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return false, err
	}
	switch code {
	case TypeCodeNull:
		return false, nil
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	case TypeCodeBool:
		b, ok := r.ReadByte()
		if !ok {
			return false, ErrTruncated
		}
		return b != 0, nil
	default:
		return false, fmt.Errorf("amqp: invalid bool type code %#02x", byte(code))
	}
}

func readUbyte(r *buffer.Buffer) (uint8, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeUbyte:
		b, ok := r.ReadByte()
		if !ok {
			return 0, ErrTruncated
		}
		return b, nil
	default:
		return 0, fmt.Errorf("amqp: invalid ubyte type code %#02x", byte(code))
	}
}

func readSbyte(r *buffer.Buffer) (int8, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeByte:
		b, ok := r.ReadByte()
		if !ok {
			return 0, ErrTruncated
		}
		return int8(b), nil
	default:
		return 0, fmt.Errorf("amqp: invalid byte type code %#02x", byte(code))
	}
}

func readUshort(r *buffer.Buffer) (uint16, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeUshort:
		n, ok := r.ReadUint16()
		if !ok {
			return 0, ErrTruncated
		}
		return n, nil
	default:
		return 0, fmt.Errorf("amqp: invalid ushort type code %#02x", byte(code))
	}
}

func readShort(r *buffer.Buffer) (int16, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeShort:
		n, ok := r.ReadUint16()
		if !ok {
			return 0, ErrTruncated
		}
		return int16(n), nil
	default:
		return 0, fmt.Errorf("amqp: invalid short type code %#02x", byte(code))
	}
}

func readUint(r *buffer.Buffer) (uint32, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull, TypeCodeUint0:
		return 0, nil
	case TypeCodeSmallUint:
		b, ok := r.ReadByte()
		if !ok {
			return 0, ErrTruncated
		}
		return uint32(b), nil
	case TypeCodeUint:
		n, ok := r.ReadUint32()
		if !ok {
			return 0, ErrTruncated
		}
		return n, nil
	default:
		return 0, fmt.Errorf("amqp: invalid uint type code %#02x", byte(code))
	}
}

func readIntVal(r *buffer.Buffer) (int32, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeSmallint:
		b, ok := r.ReadByte()
		if !ok {
			return 0, ErrTruncated
		}
		return int32(int8(b)), nil
	case TypeCodeInt:
		n, ok := r.ReadUint32()
		if !ok {
			return 0, ErrTruncated
		}
		return int32(n), nil
	default:
		return 0, fmt.Errorf("amqp: invalid int type code %#02x", byte(code))
	}
}

func readUlong(r *buffer.Buffer) (uint64, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull, TypeCodeUlong0:
		return 0, nil
	case TypeCodeSmallUlong:
		b, ok := r.ReadByte()
		if !ok {
			return 0, ErrTruncated
		}
		return uint64(b), nil
	case TypeCodeUlong:
		n, ok := r.ReadUint64()
		if !ok {
			return 0, ErrTruncated
		}
		return n, nil
	default:
		return 0, fmt.Errorf("amqp: invalid ulong type code %#02x", byte(code))
	}
}

func readLong(r *buffer.Buffer) (int64, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeSmalllong:
		b, ok := r.ReadByte()
		if !ok {
			return 0, ErrTruncated
		}
		return int64(int8(b)), nil
	case TypeCodeLong:
		n, ok := r.ReadUint64()
		if !ok {
			return 0, ErrTruncated
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("amqp: invalid long type code %#02x", byte(code))
	}
}

func readString(r *buffer.Buffer) (string, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return "", err
	}
	switch code {
	case TypeCodeNull:
		return "", nil
	case TypeCodeStr8:
		n, ok := r.ReadByte()
		if !ok {
			return "", ErrTruncated
		}
		b, ok := r.Next(int(n))
		if !ok {
			return "", ErrTruncated
		}
		return string(b), nil
	case TypeCodeStr32:
		n, ok := r.ReadUint32()
		if !ok {
			return "", ErrTruncated
		}
		b, ok := r.Next(int(n))
		if !ok {
			return "", ErrTruncated
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("amqp: invalid string type code %#02x", byte(code))
	}
}

func readSymbol(r *buffer.Buffer) (Symbol, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return "", err
	}
	switch code {
	case TypeCodeNull:
		return "", nil
	case TypeCodeSym8:
		n, ok := r.ReadByte()
		if !ok {
			return "", ErrTruncated
		}
		b, ok := r.Next(int(n))
		if !ok {
			return "", ErrTruncated
		}
		return Symbol(b), nil
	case TypeCodeSym32:
		n, ok := r.ReadUint32()
		if !ok {
			return "", ErrTruncated
		}
		b, ok := r.Next(int(n))
		if !ok {
			return "", ErrTruncated
		}
		return Symbol(b), nil
	default:
		return "", fmt.Errorf("amqp: invalid symbol type code %#02x", byte(code))
	}
}

func readMultiSymbol(r *buffer.Buffer) (MultiSymbol, error) {
	code, ok := r.PeekByte()
	if !ok {
		return nil, ErrTruncated
	}
	switch TypeCode(code) {
	case TypeCodeSym8, TypeCodeSym32:
		sym, err := readSymbol(r)
		if err != nil {
			return nil, err
		}
		return MultiSymbol{sym}, nil
	case TypeCodeNull:
		r.Skip(1)
		return nil, nil
	case TypeCodeArray8, TypeCodeArray32:
		items, err := readArray(r)
		if err != nil {
			return nil, err
		}
		out := make(MultiSymbol, len(items))
		for i, it := range items {
			s, ok := it.(Symbol)
			if !ok {
				return nil, fmt.Errorf("amqp: multi-symbol array element is %T, not symbol", it)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("amqp: invalid multi-symbol type code %#02x", code)
	}
}

func readBinary(r *buffer.Buffer) ([]byte, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return nil, err
	}
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeVbin8:
		n, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		b, ok := r.Next(int(n))
		if !ok {
			return nil, ErrTruncated
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case TypeCodeVbin32:
		n, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		b, ok := r.Next(int(n))
		if !ok {
			return nil, ErrTruncated
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	default:
		return nil, fmt.Errorf("amqp: invalid binary type code %#02x", byte(code))
	}
}

// readList reads a list container's elements as a generic []interface{}.
// Unmarshal for *[]interface{} and ReadAny's list case both use this.
func readList(r *buffer.Buffer) ([]interface{}, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return nil, err
	}
	var count int
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeList0:
		return nil, nil
	case TypeCodeList8:
		size, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		n, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		_ = size
		count = int(n)
	case TypeCodeList32:
		_, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		n, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		count = int(n)
	default:
		return nil, fmt.Errorf("amqp: invalid list type code %#02x", byte(code))
	}
	items := make([]interface{}, count)
	for i := range items {
		v, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

func readArray(r *buffer.Buffer) ([]interface{}, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return nil, err
	}
	var count int
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeArray8:
		_, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		n, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		count = int(n)
	case TypeCodeArray32:
		_, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		n, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		count = int(n)
	default:
		return nil, fmt.Errorf("amqp: invalid array type code %#02x", byte(code))
	}
	elemCode, ok := r.ReadByte()
	if !ok {
		return nil, ErrTruncated
	}
	items := make([]interface{}, count)
	for i := range items {
		// Array elements share the one element code read above and carry
		// none of their own, so decode each from a view that puts it back.
		rest := r.Bytes()
		tmp := buffer.New(append([]byte{elemCode}, rest...))
		v, err := ReadAny(tmp)
		if err != nil {
			return nil, err
		}
		r.Skip(len(rest) - tmp.Len())
		items[i] = v
	}
	return items, nil
}

func readGenericMap(r *buffer.Buffer) (map[interface{}]interface{}, error) {
	code, err := readTypeCode(r)
	if err != nil {
		return nil, err
	}
	var count int
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeMap8:
		_, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		n, ok := r.ReadByte()
		if !ok {
			return nil, ErrTruncated
		}
		count = int(n)
	case TypeCodeMap32:
		_, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		n, ok := r.ReadUint32()
		if !ok {
			return nil, ErrTruncated
		}
		count = int(n)
	default:
		return nil, fmt.Errorf("amqp: invalid map type code %#02x", byte(code))
	}
	m := make(map[interface{}]interface{}, count/2)
	for i := 0; i < count/2; i++ {
		k, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		v, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		// []byte (binary) keys, e.g. delivery-tags in an unsettled map,
		// cannot be used as Go map keys directly; normalize to string.
		if b, ok := k.([]byte); ok {
			k = string(b)
		}
		m[k] = v
	}
	return m, nil
}

// UnmarshalField pairs a destination with an optional hook run when the
// encoded value is null, mirroring the way optional composite fields with
// non-pointer defaults are handled on decode.
type UnmarshalField struct {
	Field      interface{}
	HandleNull func() error
}

// UnmarshalComposite reads a composite's descriptor (expecting wantCode)
// followed by its field list, dispatching each present element to fields
// in order. Fewer elements than len(fields) is legal: trailing fields keep
// their zero value.
func UnmarshalComposite(r *buffer.Buffer, wantCode uint64, fields ...UnmarshalField) error {
	gotCode, body, err := readCompositeHeader(r)
	if err != nil {
		return err
	}
	if gotCode != wantCode {
		return fmt.Errorf("amqp: invalid composite header %#02x, expected %#02x", gotCode, wantCode)
	}

	for i, item := range body {
		if i >= len(fields) {
			break
		}
		f := fields[i]
		if item == nil {
			if f.HandleNull != nil {
				if err := f.HandleNull(); err != nil {
					return err
				}
			}
			continue
		}
		if err := assign(f.Field, item); err != nil {
			return err
		}
	}
	return nil
}

// readCompositeHeader consumes the descriptor and returns the composite's
// fields pre-decoded into generic Go values, ready for assign().
func readCompositeHeader(r *buffer.Buffer) (code uint64, fields []interface{}, err error) {
	marker, ok := r.ReadByte()
	if !ok {
		return 0, nil, ErrTruncated
	}
	if TypeCode(marker) != TypeCodeDescriptor {
		return 0, nil, fmt.Errorf("amqp: expected composite descriptor, got type code %#02x", marker)
	}
	code, err = readUlong(r)
	if err != nil {
		return 0, nil, err
	}
	fields, err = readList(r)
	if err != nil {
		return 0, nil, err
	}
	return code, fields, nil
}

// assign copies a generically-decoded value into a typed destination
// pointer, covering the destination kinds used by composite field lists.
// Optional composite fields are typically Go pointer types (*uint32,
// *encoding.ReceiverSettleMode, ...) so that "absent" and "present with
// zero value" stay distinguishable; those are handled generically here by
// allocating the pointee and recursing, rather than by one switch case per
// pointer-to-T.
func assign(dst interface{}, v interface{}) error {
	dv := reflect.ValueOf(dst)
	vv := reflect.ValueOf(v)

	if vv.IsValid() && vv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(vv)
		return nil
	}

	// An optional scalar field (e.g. *uint32) is itself a pointer, so its
	// destination here is a pointer-to-pointer; if the value isn't
	// directly assignable to the field's own pointer type (handled
	// above, e.g. frames.Source's *Source field), allocate the pointee
	// and recurse through the full assignment logic below, which
	// includes the width conversions a raw AssignableTo check would miss.
	if dv.Elem().Kind() == reflect.Ptr {
		inner := reflect.New(dv.Elem().Type().Elem())
		if err := assign(inner.Interface(), v); err != nil {
			return err
		}
		dv.Elem().Set(inner)
		return nil
	}

	switch d := dst.(type) {
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("amqp: field: expected bool, got %T", v)
		}
		*d = b
	case *uint8:
		return assignUint(d, v, 8)
	case *uint16:
		return assignUint(d, v, 16)
	case *uint32:
		return assignUint(d, v, 32)
	case *uint64:
		return assignUint(d, v, 64)
	case *int32:
		n, ok := v.(int32)
		if !ok {
			return fmt.Errorf("amqp: field: expected int, got %T", v)
		}
		*d = n
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("amqp: field: expected string, got %T", v)
		}
		*d = s
	case *Symbol:
		s, ok := v.(Symbol)
		if !ok {
			return fmt.Errorf("amqp: field: expected symbol, got %T", v)
		}
		*d = s
	case *MultiSymbol:
		switch t := v.(type) {
		case Symbol:
			*d = MultiSymbol{t}
		case []interface{}:
			out := make(MultiSymbol, len(t))
			for i, it := range t {
				s, ok := it.(Symbol)
				if !ok {
					return fmt.Errorf("amqp: field: multi-symbol element is %T", it)
				}
				out[i] = s
			}
			*d = out
		default:
			return fmt.Errorf("amqp: field: expected symbol or symbol array, got %T", v)
		}
	case *ExpiryPolicy:
		s, ok := v.(Symbol)
		if !ok {
			return fmt.Errorf("amqp: field: expected symbol, got %T", v)
		}
		*d = ExpiryPolicy(s)
	case *[]byte:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("amqp: field: expected binary, got %T", v)
		}
		*d = b
	case *Durability:
		var n uint32
		if err := assignUint(&n, v, 32); err != nil {
			return err
		}
		*d = Durability(n)
	case *Milliseconds:
		var n uint32
		if err := assignUint(&n, v, 32); err != nil {
			return err
		}
		*d = Milliseconds(n)
	case *Role:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("amqp: field: expected bool (role), got %T", v)
		}
		*d = Role(b)
	case *SenderSettleMode:
		var n uint8
		if err := assignUint(&n, v, 8); err != nil {
			return err
		}
		*d = SenderSettleMode(n)
	case *ReceiverSettleMode:
		var n uint8
		if err := assignUint(&n, v, 8); err != nil {
			return err
		}
		*d = ReceiverSettleMode(n)
	case *Fields:
		m, ok := v.(map[interface{}]interface{})
		if !ok {
			return fmt.Errorf("amqp: field: expected map, got %T", v)
		}
		f := make(Fields, len(m))
		for k, val := range m {
			if sym, ok := k.(Symbol); ok {
				f[sym] = val
			}
		}
		*d = f
	case *Filter:
		m, ok := v.(map[interface{}]interface{})
		if !ok {
			return fmt.Errorf("amqp: field: expected map, got %T", v)
		}
		f := make(Filter, len(m))
		for k, val := range m {
			if sym, ok := k.(Symbol); ok {
				f[sym] = val
			}
		}
		*d = f
	case *map[string]DeliveryState:
		m, ok := v.(map[interface{}]interface{})
		if !ok {
			return fmt.Errorf("amqp: field: expected map, got %T", v)
		}
		out := make(map[string]DeliveryState, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return fmt.Errorf("amqp: field: unsettled map key is %T, not binary", k)
			}
			ds, ok := val.(DeliveryState)
			if !ok {
				return fmt.Errorf("amqp: field: unsettled map value is %T, not a delivery-state", val)
			}
			out[s] = ds
		}
		*d = out
	case *[]interface{}:
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("amqp: field: expected list, got %T", v)
		}
		*d = items
	case *interface{}:
		*d = v
	case *DeliveryState:
		ds, ok := v.(DeliveryState)
		if !ok {
			return fmt.Errorf("amqp: field: expected delivery-state, got %T", v)
		}
		*d = ds
	case *Error:
		e, ok := v.(*Error)
		if !ok {
			return fmt.Errorf("amqp: field: expected error, got %T", v)
		}
		*d = *e
	default:
		// Composite types owned by other packages (frames.Source,
		// frames.Target, ...) register a Constructor but have no case
		// here; assign them by reflection instead of making this package
		// import its own callers.
		return assignReflect(dst, v)
	}
	return nil
}

func assignReflect(dst interface{}, v interface{}) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("amqp: field: unsupported destination %T", dst)
	}
	elem := dv.Elem()
	vv := reflect.ValueOf(v)
	if !vv.IsValid() {
		return fmt.Errorf("amqp: field: cannot assign nil to %T", dst)
	}
	if !vv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("amqp: field: %T is not assignable to %s", v, elem.Type())
	}
	elem.Set(vv)
	return nil
}

func assignUint(dst interface{}, v interface{}, bits int) error {
	var n uint64
	switch t := v.(type) {
	case uint8:
		n = uint64(t)
	case uint16:
		n = uint64(t)
	case uint32:
		n = uint64(t)
	case uint64:
		n = t
	default:
		return fmt.Errorf("amqp: field: expected unsigned integer, got %T", v)
	}
	switch d := dst.(type) {
	case *uint8:
		*d = uint8(n)
	case *uint16:
		*d = uint16(n)
	case *uint32:
		*d = uint32(n)
	case *uint64:
		*d = n
	default:
		return fmt.Errorf("amqp: field: bad uint destination for %d-bit value", bits)
	}
	return nil
}
