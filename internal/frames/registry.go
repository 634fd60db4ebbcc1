package frames

import (
	"fmt"

	"github.com/rhs/amqp/internal/buffer"
	"github.com/rhs/amqp/internal/encoding"
)

// Source, Target and Coordinator can each appear as the generically-typed
// target field of an Attach, so the codec needs a constructor for them the
// same way it does for the delivery-state outcomes defined in the
// encoding package itself.
func init() {
	encoding.RegisterConstructor(encoding.CodeSource, func(fields []interface{}) (interface{}, error) {
		return decodeFromFields(&Source{}, encoding.CodeSource, fields)
	})
	encoding.RegisterConstructor(encoding.CodeTarget, func(fields []interface{}) (interface{}, error) {
		return decodeFromFields(&Target{}, encoding.CodeTarget, fields)
	})
	encoding.RegisterConstructor(encoding.CodeCoordinator, func(fields []interface{}) (interface{}, error) {
		return decodeFromFields(&Coordinator{}, encoding.CodeCoordinator, fields)
	})
}

// decodeFromFields re-marshals an already-decoded field list back onto a
// scratch buffer so it can be fed through dst's own Unmarshal. This keeps
// the field-by-field decoding logic in exactly one place per type (its
// Unmarshal method) instead of duplicating it for the registry path.
func decodeFromFields(dst encoding.Unmarshaler, code uint64, fields []interface{}) (interface{}, error) {
	scratch := buffer.New(nil)
	encoding.WriteDescriptor(scratch, code)
	items := make([]interface{}, len(fields))
	copy(items, fields)
	if err := encoding.Marshal(scratch, items); err != nil {
		return nil, fmt.Errorf("amqp: re-encoding %T for registry decode: %w", dst, err)
	}
	if err := dst.Unmarshal(scratch); err != nil {
		return nil, err
	}
	return dst, nil
}
