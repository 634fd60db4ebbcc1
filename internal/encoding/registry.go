package encoding

import (
	"fmt"
	"sync"

	"github.com/rhs/amqp/internal/buffer"
)

// Constructor builds a Go value for a composite described by fields, the
// already-decoded contents of its list or map body. It is the read half of
// the schema binding described for the codec: a package that owns a
// described type registers how to construct one from generic field values,
// and the codec never needs a type switch that knows about that package.
type Constructor func(fields []interface{}) (interface{}, error)

var (
	registryMu sync.RWMutex
	registry   = map[uint64]Constructor{}
)

// RegisterConstructor binds a composite descriptor code to the function
// that turns its decoded field list into a concrete Go value. Packages that
// define their own described types (frames.Source, frames.Target,
// frames.Coordinator) call this from an init() so that ReadAny and
// UnmarshalComposite's nested interface{} fields can decode them without
// the encoding package importing the caller.
func RegisterConstructor(code uint64, construct Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = construct
}

func lookupConstructor(code uint64) (Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[code]
	return c, ok
}

func init() {
	RegisterConstructor(CodeAccepted, func(fields []interface{}) (interface{}, error) {
		return &Accepted{}, nil
	})
	RegisterConstructor(CodeReleased, func(fields []interface{}) (interface{}, error) {
		return &Released{}, nil
	})
	RegisterConstructor(CodeRejected, func(fields []interface{}) (interface{}, error) {
		r := &Rejected{}
		if len(fields) > 0 {
			if e, ok := fields[0].(*Error); ok {
				r.Error = e
			}
		}
		return r, nil
	})
	RegisterConstructor(CodeModified, func(fields []interface{}) (interface{}, error) {
		m := &Modified{}
		if len(fields) > 0 {
			if b, ok := fields[0].(bool); ok {
				m.DeliveryFailed = b
			}
		}
		if len(fields) > 1 {
			if b, ok := fields[1].(bool); ok {
				m.UndeliverableHere = b
			}
		}
		if len(fields) > 2 {
			if mp, ok := fields[2].(map[interface{}]interface{}); ok {
				f := make(Fields, len(mp))
				for k, v := range mp {
					if sym, ok := k.(Symbol); ok {
						f[sym] = v
					}
				}
				m.MessageAnnotations = f
			}
		}
		return m, nil
	})
	RegisterConstructor(CodeDeclared, func(fields []interface{}) (interface{}, error) {
		d := &Declared{}
		if len(fields) > 0 {
			if b, ok := fields[0].([]byte); ok {
				d.TxnID = b
			}
		}
		return d, nil
	})
	RegisterConstructor(CodeTransactionalState, func(fields []interface{}) (interface{}, error) {
		ts := &TransactionalState{}
		if len(fields) > 0 {
			if b, ok := fields[0].([]byte); ok {
				ts.TxnID = b
			}
		}
		if len(fields) > 1 {
			if ds, ok := fields[1].(DeliveryState); ok {
				ts.Outcome = ds
			}
		}
		return ts, nil
	})
	RegisterConstructor(CodeDeclare, func(fields []interface{}) (interface{}, error) {
		return &Declare{}, nil
	})
	RegisterConstructor(CodeDischarge, func(fields []interface{}) (interface{}, error) {
		d := &Discharge{}
		if len(fields) > 0 {
			if b, ok := fields[0].([]byte); ok {
				d.TxnID = b
			}
		}
		if len(fields) > 1 {
			if b, ok := fields[1].(bool); ok {
				d.Fail = b
			}
		}
		return d, nil
	})
	RegisterConstructor(CodeError, func(fields []interface{}) (interface{}, error) {
		e := &Error{}
		if len(fields) > 0 {
			if sym, ok := fields[0].(Symbol); ok {
				e.Condition = sym
			}
		}
		if len(fields) > 1 {
			if s, ok := fields[1].(string); ok {
				e.Description = s
			}
		}
		if len(fields) > 2 {
			if mp, ok := fields[2].(map[interface{}]interface{}); ok {
				f := make(Fields, len(mp))
				for k, v := range mp {
					if sym, ok := k.(Symbol); ok {
						f[sym] = v
					}
				}
				e.Info = f
			}
		}
		return e, nil
	})
}

// ReadAny decodes the next value from r into a generic Go representation:
// one of the primitive Go types used elsewhere in this package, a
// []interface{} for lists and arrays, a map[interface{}]interface{} for
// maps, or whatever a registered Constructor returns for a described value.
func ReadAny(r *buffer.Buffer) (interface{}, error) {
	code, ok := r.PeekByte()
	if !ok {
		return nil, ErrTruncated
	}
	return readAnyOfCode(r, TypeCode(code))
}

// DecodeDescribed decodes a single self-describing value out of a raw byte
// slice (e.g. a Transfer's opaque payload) via the same registry ReadAny
// uses. Callers outside this package reach for it when a payload carries a
// described composite rather than an application-defined blob, such as the
// transaction coordinator's Declare/Discharge control messages.
func DecodeDescribed(payload []byte) (interface{}, error) {
	buf := buffer.New(append([]byte(nil), payload...))
	return ReadAny(buf)
}

// readAnyOfCode decodes a value already known from a peek to have the given
// type code, without peeking again; the code byte itself is still unread.
func readAnyOfCode(r *buffer.Buffer, code TypeCode) (interface{}, error) {
	switch code {
	case TypeCodeNull:
		r.Skip(1)
		return nil, nil
	case TypeCodeBoolTrue, TypeCodeBoolFalse, TypeCodeBool:
		return readBool(r)
	case TypeCodeUbyte:
		return readUbyte(r)
	case TypeCodeByte:
		return readSbyte(r)
	case TypeCodeUshort:
		return readUshort(r)
	case TypeCodeShort:
		return readShort(r)
	case TypeCodeUint, TypeCodeSmallUint, TypeCodeUint0:
		return readUint(r)
	case TypeCodeInt, TypeCodeSmallint:
		return readIntVal(r)
	case TypeCodeUlong, TypeCodeSmallUlong, TypeCodeUlong0:
		return readUlong(r)
	case TypeCodeLong, TypeCodeSmalllong:
		return readLong(r)
	case TypeCodeFloat:
		var f float32
		if err := Unmarshal(r, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeCodeDouble:
		var f float64
		if err := Unmarshal(r, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeCodeStr8, TypeCodeStr32:
		return readString(r)
	case TypeCodeSym8, TypeCodeSym32:
		return readSymbol(r)
	case TypeCodeVbin8, TypeCodeVbin32:
		return readBinary(r)
	case TypeCodeList0, TypeCodeList8, TypeCodeList32:
		return readList(r)
	case TypeCodeMap8, TypeCodeMap32:
		return readGenericMap(r)
	case TypeCodeArray8, TypeCodeArray32:
		return readArray(r)
	case TypeCodeDescriptor:
		descCode, fields, err := readCompositeHeader(r)
		if err != nil {
			return nil, err
		}
		construct, ok := lookupConstructor(descCode)
		if !ok {
			return nil, fmt.Errorf("amqp: no constructor registered for descriptor %#02x", descCode)
		}
		return construct(fields)
	default:
		return nil, fmt.Errorf("amqp: unrecognized type code %#02x", byte(code))
	}
}
