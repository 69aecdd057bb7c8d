package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Availability is a tri-state stock flag. The zero value is Unknown.
type Availability int8

const (
	// Unknown means no page signal resolved the stock state.
	Unknown Availability = iota
	// InStock means the product can be purchased.
	InStock
	// OutOfStock means the product is sold out.
	OutOfStock
)

// AvailabilityOf converts a boolean into a resolved Availability.
func AvailabilityOf(available bool) Availability {
	if available {
		return InStock
	}
	return OutOfStock
}

// Known reports whether the state is resolved.
func (a Availability) Known() bool {
	return a == InStock || a == OutOfStock
}

// String renders the state for logs and templates.
func (a Availability) String() string {
	switch a {
	case InStock:
		return "in_stock"
	case OutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as true, false or null.
func (a Availability) MarshalJSON() ([]byte, error) {
	switch a {
	case InStock:
		return []byte("true"), nil
	case OutOfStock:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false or null.
func (a *Availability) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*a = InStock
	case "false":
		*a = OutOfStock
	case "null", "":
		*a = Unknown
	default:
		return fmt.Errorf("decode availability: unexpected %q", data)
	}
	return nil
}

var _ json.Marshaler = Availability(0)
