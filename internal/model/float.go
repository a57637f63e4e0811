package model

import (
	"database/sql/driver"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// Float is a float64 whose NaN and infinite values survive JSON and SQL
// round trips as null. Local statistics carry NaN for islands and for
// skipped permutation p-values; encoding/json rejects those outright and
// database drivers disagree on them, so the conversion lives here.
type Float float64

// F wraps a float64.
func F(v float64) Float { return Float(v) }

// Float64 returns the underlying value; null round-trips as NaN.
func (f Float) Float64() float64 { return float64(f) }

// Valid reports whether the value is finite.
func (f Float) Valid() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MarshalJSON encodes non-finite values as null.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// UnmarshalJSON decodes null as NaN.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "model: unmarshal float")
	}
	*f = Float(v)
	return nil
}

// Value implements driver.Valuer, storing non-finite values as NULL.
func (f Float) Value() (driver.Value, error) {
	if !f.Valid() {
		return nil, nil
	}
	return float64(f), nil
}

// Scan implements sql.Scanner, reading NULL back as NaN.
func (f *Float) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = Float(math.NaN())
	case float64:
		*f = Float(v)
	case int64:
		*f = Float(v)
	default:
		return eris.Errorf("model: cannot scan %T into Float", src)
	}
	return nil
}
