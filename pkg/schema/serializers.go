package schema

import (
	"encoding/base64"
	"fmt"
	"time"
)

// SerializeTime renders a time.Time (or *time.Time) as an RFC3339
// string. nil/zero *time.Time pointers serialize to nil.
func SerializeTime(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return v.UTC().Format(time.RFC3339Nano), nil
	default:
		return nil, fmt.Errorf("schema: SerializeTime: unsupported type %T", value)
	}
}

// SerializeBytes renders a []byte as standard base64.
func SerializeBytes(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	default:
		return nil, fmt.Errorf("schema: SerializeBytes: unsupported type %T", value)
	}
}

// SerializeStringified renders any fmt.Stringer (or already-string
// value) as a plain string — the Go analogue of BigInt→string for
// values too large to trust to a JSON number (int64 ids, durations).
func SerializeStringified(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
