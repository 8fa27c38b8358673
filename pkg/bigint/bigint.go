// Package bigint provides integer types whose JSON form is the tagged string
// "BIGINT::<decimal>". Persisted stores rely on it so that 64-bit heights and
// token amounts survive a save/load cycle without float rounding.
package bigint

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Tag prefixes every serialized integer.
const Tag = "BIGINT::"

// U64 is an unsigned 64-bit integer serialized as a tagged string.
type U64 uint64

func (u U64) Uint64() uint64 {
	return uint64(u)
}

func (u U64) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// SubSaturating returns u-n, or 0 when n > u.
func (u U64) SubSaturating(n uint64) U64 {
	if uint64(u) < n {
		return 0
	}
	return u - U64(n)
}

func (u U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(Tag + u.String())
}

// UnmarshalJSON accepts the tagged form, a plain decimal string or a JSON number.
func (u *U64) UnmarshalJSON(data []byte) error {
	raw, err := unquote(data)
	if err != nil {
		return err
	}
	if raw == "" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 value %q: %w", raw, err)
	}
	*u = U64(v)
	return nil
}

// Int is an arbitrary precision integer serialized as a tagged string. The zero
// value is 0.
type Int struct {
	v *big.Int
}

func NewInt(v *big.Int) Int {
	if v == nil {
		return Int{}
	}
	return Int{v: new(big.Int).Set(v)}
}

func FromUint64(v uint64) Int {
	return Int{v: new(big.Int).SetUint64(v)}
}

// Parse reads a decimal string, with or without the tag.
func Parse(s string) (Int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), Tag)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int{}, fmt.Errorf("invalid integer %q", s)
	}
	return Int{v: v}, nil
}

// Big returns a copy of the underlying value.
func (i Int) Big() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.v)
}

func (i Int) IsZero() bool {
	return i.v == nil || i.v.Sign() == 0
}

func (i Int) Cmp(o Int) int {
	return i.Big().Cmp(o.Big())
}

func (i Int) String() string {
	if i.v == nil {
		return "0"
	}
	return i.v.String()
}

func (i Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(Tag + i.String())
}

func (i *Int) UnmarshalJSON(data []byte) error {
	raw, err := unquote(data)
	if err != nil {
		return err
	}
	if raw == "" {
		*i = Int{}
		return nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("invalid integer value %q", raw)
	}
	i.v = v
	return nil
}

func unquote(data []byte) (string, error) {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return "", err
		}
		s = str
	}
	return strings.TrimPrefix(s, Tag), nil
}
