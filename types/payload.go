package types

import (
	"errors"
	"fmt"
)

// maxPayloadDepth bounds nesting so validation stays a bounded computation
// even on adversarial input.
const maxPayloadDepth = 32

var errPayloadTooDeep = errors.New("payload nesting too deep")

// Payload is an opaque, order-insensitive map carried by blocks. The engine
// never interprets its contents; it only requires values to stay within a
// closed variant set so the canonical encoding is stable: string, bool,
// integers, float64, and nested maps of the same variants.
type Payload map[string]any

// Validate checks every value against the allowed variant set.
func (p Payload) Validate() error {
	return validateMap(map[string]any(p), 0)
}

func validateMap(m map[string]any, depth int) error {
	if depth >= maxPayloadDepth {
		return errPayloadTooDeep
	}
	for key, value := range m {
		if key == "" {
			return errors.New("payload key must be non-empty")
		}
		if err := validateValue(value, depth); err != nil {
			return fmt.Errorf("payload key %q: %w", key, err)
		}
	}
	return nil
}

func validateValue(v any, depth int) error {
	switch val := v.(type) {
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return nil
	case Payload:
		return validateMap(map[string]any(val), depth+1)
	case map[string]any:
		return validateMap(val, depth+1)
	default:
		return fmt.Errorf("unsupported payload value type %T", v)
	}
}

// Copy returns a deep copy. Nested maps are copied recursively; scalar
// values are immutable and shared.
func (p Payload) Copy() Payload {
	if p == nil {
		return Payload{}
	}
	return Payload(copyMap(map[string]any(p)))
}

func copyMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for key, value := range m {
		switch val := value.(type) {
		case Payload:
			cp[key] = copyMap(map[string]any(val))
		case map[string]any:
			cp[key] = copyMap(val)
		default:
			cp[key] = value
		}
	}
	return cp
}
