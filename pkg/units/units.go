/**
 * @description
 * This package provides exact arithmetic helpers for token amounts held in
 * smallest indivisible units (wei for ETH, 6dp units for USDC). Amounts
 * never pass through floating point: parsing and formatting are done with
 * math/big and shopspring/decimal only.
 *
 * @dependencies
 * - math/big: arbitrary-precision integers.
 * - github.com/shopspring/decimal: exact decimal shifting for display and
 *   rail-facing decimal strings.
 */
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("amount is not a valid integer")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Parse converts a base-10 integer string of smallest units into a big
// integer. Rejects anything that is not a non-negative integer.
func Parse(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrInvalidAmount
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNegativeAmount, s)
	}
	return v, nil
}

// MustParse is Parse for trusted inputs (amounts this service wrote
// itself). It panics on malformed input, which indicates corrupted state.
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ToDecimalString renders a smallest-unit amount as the human decimal
// string expected by custodial rails and API consumers, with trailing
// zeros trimmed ("1500000" at 6 decimals -> "1.5").
func ToDecimalString(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FromDecimalString converts a human decimal string back into smallest
// units. Fails if the value carries more fractional digits than the token
// supports, since that cannot be represented without loss.
func FromDecimalString(s string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNegativeAmount, s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, s, decimals)
	}
	return shifted.BigInt(), nil
}
