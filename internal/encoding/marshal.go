package encoding

import (
	"fmt"
	"math"

	"github.com/rhs/amqp/internal/buffer"
)

// Marshaler is implemented by composite types that encode themselves
// (performatives, delivery states, Source/Target). Everything else goes
// through the generic Marshal dispatch below.
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

// Marshal encodes v onto wr using the AMQP type system. v may be a
// Marshaler, a supported Go primitive (or pointer to one, nil encoding as
// null), or one of the container kinds handled below, such as []interface{}
// (list), Fields/Filter/map[string]interface{}/map[string]DeliveryState
// (map) and MultiSymbol (symbol array).
func Marshal(wr *buffer.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		wr.AppendByte(byte(TypeCodeNull))
		return nil
	case Marshaler:
		return t.Marshal(wr)

	case bool:
		return writeBool(wr, t)
	case *bool:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeBool(wr, *t)

	case uint8:
		return writeUbyte(wr, t)
	case *uint8:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUbyte(wr, *t)

	case uint16:
		return writeUshort(wr, t)
	case *uint16:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUshort(wr, *t)

	case uint32:
		return writeUint(wr, t)
	case *uint32:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUint(wr, *t)

	case uint64:
		return writeUlong(wr, t)
	case *uint64:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUlong(wr, *t)

	case int8:
		return writeByte(wr, t)
	case int16:
		return writeShort(wr, t)
	case int32:
		return writeInt(wr, t)
	case int64:
		return writeLong(wr, t)
	case int:
		return writeLong(wr, int64(t))

	case float32:
		wr.AppendByte(byte(TypeCodeFloat))
		wr.AppendUint32(math.Float32bits(t))
		return nil
	case float64:
		wr.AppendByte(byte(TypeCodeDouble))
		wr.AppendUint64(math.Float64bits(t))
		return nil

	case string:
		return writeString(wr, t)
	case *string:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeString(wr, *t)

	case Symbol:
		return writeSymbol(wr, t)
	case *Symbol:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeSymbol(wr, *t)
	case MultiSymbol:
		return writeMultiSymbol(wr, t)
	case ExpiryPolicy:
		return writeSymbol(wr, Symbol(t))

	case []byte:
		return WriteBinary(wr, t)

	case Durability:
		return writeUint(wr, uint32(t))
	case *Durability:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUint(wr, uint32(*t))
	case Milliseconds:
		return writeUint(wr, uint32(t))
	case *Milliseconds:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUint(wr, uint32(*t))

	case Role:
		return writeBool(wr, bool(t))
	case *Role:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeBool(wr, bool(*t))

	case SenderSettleMode:
		return writeUbyte(wr, uint8(t))
	case *SenderSettleMode:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUbyte(wr, uint8(*t))
	case ReceiverSettleMode:
		return writeUbyte(wr, uint8(t))
	case *ReceiverSettleMode:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return writeUbyte(wr, uint8(*t))

	case Fields:
		return writeFieldsMap(wr, t)
	case Filter:
		return writeFilterMap(wr, map[Symbol]interface{}(t))
	case map[string]interface{}:
		return writeStringMap(wr, t)

	case map[string]DeliveryState:
		// unsettled map keys are delivery-tags: binary on the wire, string
		// in Go since []byte cannot itself be a map key.
		return writeUnsettledMap(wr, t)

	case []interface{}:
		return writeList(wr, t)
	case [][]byte:
		items := make([]interface{}, len(t))
		for i, b := range t {
			items[i] = b
		}
		return writeList(wr, items)

	default:
		return fmt.Errorf("amqp: marshal: unsupported type %T", v)
	}
}

func writeBool(wr *buffer.Buffer, b bool) error {
	if b {
		wr.AppendByte(byte(TypeCodeBoolTrue))
	} else {
		wr.AppendByte(byte(TypeCodeBoolFalse))
	}
	return nil
}

func writeUbyte(wr *buffer.Buffer, n uint8) error {
	wr.AppendByte(byte(TypeCodeUbyte))
	wr.AppendByte(n)
	return nil
}

func writeUshort(wr *buffer.Buffer, n uint16) error {
	wr.AppendByte(byte(TypeCodeUshort))
	wr.AppendUint16(n)
	return nil
}

func writeUint(wr *buffer.Buffer, n uint32) error {
	if n == 0 {
		wr.AppendByte(byte(TypeCodeUint0))
		return nil
	}
	if n <= math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeSmallUint))
		wr.AppendByte(byte(n))
		return nil
	}
	wr.AppendByte(byte(TypeCodeUint))
	wr.AppendUint32(n)
	return nil
}

func writeUlong(wr *buffer.Buffer, n uint64) error {
	if n == 0 {
		wr.AppendByte(byte(TypeCodeUlong0))
		return nil
	}
	if n <= math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(n))
		return nil
	}
	wr.AppendByte(byte(TypeCodeUlong))
	wr.AppendUint64(n)
	return nil
}

func writeByte(wr *buffer.Buffer, n int8) error {
	wr.AppendByte(byte(TypeCodeByte))
	wr.AppendByte(byte(n))
	return nil
}

func writeShort(wr *buffer.Buffer, n int16) error {
	wr.AppendByte(byte(TypeCodeShort))
	wr.AppendUint16(uint16(n))
	return nil
}

func writeInt(wr *buffer.Buffer, n int32) error {
	if n >= math.MinInt8 && n <= math.MaxInt8 {
		wr.AppendByte(byte(TypeCodeSmallint))
		wr.AppendByte(byte(n))
		return nil
	}
	wr.AppendByte(byte(TypeCodeInt))
	wr.AppendUint32(uint32(n))
	return nil
}

func writeLong(wr *buffer.Buffer, n int64) error {
	if n >= math.MinInt8 && n <= math.MaxInt8 {
		wr.AppendByte(byte(TypeCodeSmalllong))
		wr.AppendByte(byte(n))
		return nil
	}
	wr.AppendByte(byte(TypeCodeLong))
	wr.AppendUint64(uint64(n))
	return nil
}

func writeString(wr *buffer.Buffer, s string) error {
	if len(s) > math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeStr32))
		wr.AppendUint32(uint32(len(s)))
	} else {
		wr.AppendByte(byte(TypeCodeStr8))
		wr.AppendByte(byte(len(s)))
	}
	wr.AppendString(s)
	return nil
}

func writeSymbol(wr *buffer.Buffer, s Symbol) error {
	if len(s) > math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeSym32))
		wr.AppendUint32(uint32(len(s)))
	} else {
		wr.AppendByte(byte(TypeCodeSym8))
		wr.AppendByte(byte(len(s)))
	}
	wr.AppendString(string(s))
	return nil
}

func writeMultiSymbol(wr *buffer.Buffer, syms MultiSymbol) error {
	if len(syms) == 1 {
		return writeSymbol(wr, syms[0])
	}
	items := make([]interface{}, len(syms))
	for i, s := range syms {
		items[i] = s
	}
	return writeArray(wr, items, func(wr *buffer.Buffer, v interface{}) error {
		return writeSymbolNoHeader(wr, v.(Symbol))
	}, byte(TypeCodeSym32))
}

func writeSymbolNoHeader(wr *buffer.Buffer, s Symbol) error {
	wr.AppendUint32(uint32(len(s)))
	wr.AppendString(string(s))
	return nil
}

// WriteBinary encodes b as an AMQP binary value.
func WriteBinary(wr *buffer.Buffer, b []byte) error {
	if len(b) > math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeVbin32))
		wr.AppendUint32(uint32(len(b)))
	} else {
		wr.AppendByte(byte(TypeCodeVbin8))
		wr.AppendByte(byte(len(b)))
	}
	wr.Append(b)
	return nil
}

// WriteDescriptor writes the numeric half of a composite descriptor:
// 0x00 <ulong code>.
func WriteDescriptor(wr *buffer.Buffer, code uint64) {
	wr.AppendByte(byte(TypeCodeDescriptor))
	if err := writeUlong(wr, code); err != nil {
		panic(err) // writeUlong never errors
	}
}

func writeList(wr *buffer.Buffer, items []interface{}) error {
	if len(items) == 0 {
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}
	body := buffer.New(nil)
	for _, item := range items {
		if err := Marshal(body, item); err != nil {
			return err
		}
	}
	return writeContainerHeader(wr, TypeCodeList8, TypeCodeList32, len(items), body.Bytes())
}

func writeArray(wr *buffer.Buffer, items []interface{}, writeElem func(*buffer.Buffer, interface{}) error, elemCode byte) error {
	body := buffer.New(nil)
	body.AppendByte(elemCode)
	for _, item := range items {
		if err := writeElem(body, item); err != nil {
			return err
		}
	}
	return writeContainerHeader(wr, TypeCodeArray8, TypeCodeArray32, len(items), body.Bytes())
}

func writeContainerHeader(wr *buffer.Buffer, small, large TypeCode, count int, body []byte) error {
	// size field counts the count field's bytes plus the body, not itself.
	if count <= math.MaxUint8-1 && len(body)+1 <= math.MaxUint8 {
		wr.AppendByte(byte(small))
		wr.AppendByte(byte(len(body) + 1))
		wr.AppendByte(byte(count))
		wr.Append(body)
		return nil
	}
	wr.AppendByte(byte(large))
	wr.AppendUint32(uint32(len(body) + 4))
	wr.AppendUint32(uint32(count))
	wr.Append(body)
	return nil
}

func writeFieldsMap(wr *buffer.Buffer, f Fields) error {
	m := make(map[interface{}]interface{}, len(f))
	for k, v := range f {
		m[k] = v
	}
	return writeGenericMap(wr, m)
}

func writeFilterMap(wr *buffer.Buffer, f map[Symbol]interface{}) error {
	m := make(map[interface{}]interface{}, len(f))
	for k, v := range f {
		m[k] = v
	}
	return writeGenericMap(wr, m)
}

func writeStringMap(wr *buffer.Buffer, f map[string]interface{}) error {
	m := make(map[interface{}]interface{}, len(f))
	for k, v := range f {
		m[k] = v
	}
	return writeGenericMap(wr, m)
}

func writeUnsettledMap(wr *buffer.Buffer, m map[string]DeliveryState) error {
	if len(m) == 0 {
		return writeContainerHeader(wr, TypeCodeMap8, TypeCodeMap32, 0, nil)
	}
	body := buffer.New(nil)
	for k, v := range m {
		if err := WriteBinary(body, []byte(k)); err != nil {
			return err
		}
		if err := Marshal(body, v); err != nil {
			return err
		}
	}
	return writeContainerHeader(wr, TypeCodeMap8, TypeCodeMap32, len(m)*2, body.Bytes())
}

func writeGenericMap(wr *buffer.Buffer, m map[interface{}]interface{}) error {
	if len(m) == 0 {
		return writeContainerHeader(wr, TypeCodeMap8, TypeCodeMap32, 0, nil)
	}
	body := buffer.New(nil)
	for k, v := range m {
		if err := Marshal(body, k); err != nil {
			return err
		}
		if err := Marshal(body, v); err != nil {
			return err
		}
	}
	return writeContainerHeader(wr, TypeCodeMap8, TypeCodeMap32, len(m)*2, body.Bytes())
}

// MarshalField pairs a field's value with whether it should be omitted
// (encoded as null) because it is still at its default.
type MarshalField struct {
	Value interface{}
	Omit  bool
}

// MarshalComposite writes the descriptor followed by a list of the given
// fields, trimming trailing omitted fields (the standard AMQP composite
// encoding shortcut) rather than writing null placeholders for them.
func MarshalComposite(wr *buffer.Buffer, code uint64, fields []MarshalField) error {
	WriteDescriptor(wr, code)

	last := -1
	for i, f := range fields {
		if !f.Omit {
			last = i
		}
	}

	items := make([]interface{}, last+1)
	for i := 0; i <= last; i++ {
		if fields[i].Omit {
			items[i] = nil
		} else {
			items[i] = fields[i].Value
		}
	}
	return writeList(wr, items)
}
