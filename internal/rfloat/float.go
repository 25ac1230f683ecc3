// Package rfloat implements the 32-byte packed decimal Float type used for
// every on-chain amount (vault balances, trade deltas, quote ratios). It
// wraps github.com/shopspring/decimal for arithmetic and adds the
// packed-bytes codec the storage layer and ABI boundary need.
package rfloat

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned by arithmetic that would not fit back into the
// packed representation (coefficient or exponent out of range).
type ErrOverflow struct {
	Op string
}

func (e *ErrOverflow) Error() string { return fmt.Sprintf("rfloat: overflow in %s", e.Op) }

// Float is a sign+coefficient+exponent packed decimal, the Go-side mirror of
// the 32-byte on-chain Float value. Internally it is backed by
// decimal.Decimal so arithmetic reuses a well-tested library rather than
// hand-rolled bignum code; ToBytes32/FromBytes32 handle the wire form.
type Float struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Float{d: decimal.Zero}

// FromFixedDecimal converts a raw on-chain integer amount (as stored in a
// uint256) with the given ERC-20 decimals into a Float.
func FromFixedDecimal(raw *big.Int, decimals uint8) Float {
	return Float{d: decimal.NewFromBigInt(raw, -int32(decimals))}
}

// ToFixedDecimal converts back to a raw uint256-sized integer amount at the
// given decimals. Returns ErrOverflow if the value is negative (vault
// balances must not go negative once rendered on-chain) — callers doing
// signed deltas should use Float arithmetic directly instead.
func (f Float) ToFixedDecimal(decimals uint8) (*big.Int, error) {
	if f.d.IsNegative() {
		return nil, &ErrOverflow{Op: "to_fixed_decimal: negative value"}
	}
	scaled := f.d.Shift(int32(decimals))
	return scaled.BigInt(), nil
}

// Format18 renders the value as a human-readable decimal string with up to
// 18 fractional digits, trimming trailing zeros.
func (f Float) Format18() string {
	return f.d.Truncate(18).String()
}

// String implements fmt.Stringer for logging.
func (f Float) String() string { return f.d.String() }

// Add returns f + other.
func (f Float) Add(other Float) Float { return Float{d: f.d.Add(other.d)} }

// Sub returns f - other.
func (f Float) Sub(other Float) Float { return Float{d: f.d.Sub(other.d)} }

// Neg returns -f.
func (f Float) Neg() Float { return Float{d: f.d.Neg()} }

// Mul returns f * other, erroring if the result's coefficient needs 224 bits
// or more (see fitsCoefficient).
func (f Float) Mul(other Float) (Float, error) {
	r := f.d.Mul(other.d)
	if !fitsCoefficient(r) {
		return Float{}, &ErrOverflow{Op: "mul"}
	}
	return Float{d: r}, nil
}

// Div returns f / other at 18 decimal places of precision, erroring on
// division by zero.
func (f Float) Div(other Float) (Float, error) {
	if other.d.IsZero() {
		return Float{}, &ErrOverflow{Op: "div: division by zero"}
	}
	return Float{d: f.d.DivRound(other.d, 18)}, nil
}

// Eq reports whether f == other.
func (f Float) Eq(other Float) bool { return f.d.Equal(other.d) }

// Le reports whether f <= other.
func (f Float) Le(other Float) bool { return f.d.LessThanOrEqual(other.d) }

// Lt reports whether f < other.
func (f Float) Lt(other Float) bool { return f.d.LessThan(other.d) }

// IsZero reports whether f is exactly zero.
func (f Float) IsZero() bool { return f.d.IsZero() }

// IsNegative reports whether f < 0.
func (f Float) IsNegative() bool { return f.d.IsNegative() }

// fitsCoefficient is a conservative bound check: anything whose coefficient
// needs 224 bits or more is rejected rather than silently truncated. The
// bound is tighter than the 30-byte coefficient field ToBytes32 writes.
func fitsCoefficient(d decimal.Decimal) bool {
	coeff := d.Coefficient()
	limit := new(big.Int).Lsh(big.NewInt(1), 224)
	abs := new(big.Int).Abs(coeff)
	return abs.Cmp(limit) < 0
}

// ToBytes32 packs the Float into its 32-byte wire form: byte 0 is the sign
// (0 = non-negative, 1 = negative), byte 1 is the exponent encoded as a
// signed offset (exponent + 128, so the representable range is [-128, 127]),
// and the remaining 30 bytes are the big-endian absolute coefficient.
func (f Float) ToBytes32() ([32]byte, error) {
	var out [32]byte
	exp := f.d.Exponent()
	if exp < -128 || exp > 127 {
		return out, &ErrOverflow{Op: "to_bytes32: exponent out of range"}
	}
	coeff := new(big.Int).Abs(f.d.Coefficient())
	b := coeff.Bytes()
	if len(b) > 30 {
		return out, &ErrOverflow{Op: "to_bytes32: coefficient out of range"}
	}
	if f.d.IsNegative() {
		out[0] = 1
	}
	out[1] = byte(int16(exp) + 128)
	copy(out[32-len(b):], b)
	return out, nil
}

// FromBytes32 is the inverse of ToBytes32.
func FromBytes32(b [32]byte) Float {
	neg := b[0] == 1
	exp := int32(b[1]) - 128
	coeff := new(big.Int).SetBytes(b[2:])
	if neg {
		coeff.Neg(coeff)
	}
	return Float{d: decimal.NewFromBigInt(coeff, exp)}
}

// HexString renders ToBytes32 as a "0x"-prefixed lowercase hex string, the
// form stored in SQL columns (§3: "SQL writes store the 32-byte hex-encoded
// form").
func (f Float) HexString() (string, error) {
	b, err := f.ToBytes32()
	if err != nil {
		return "", err
	}
	return "0x" + hexEncode(b[:]), nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}
