package chunker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/rustic-rs/rustic-sub001/internal/errors"
)

// Pol is a polynomial from GF(2)[X], packed into a uint64 where bit i holds
// the coefficient of X^i.
type Pol uint64

// Add returns x+y, which in GF(2)[X] is a bitwise XOR.
func (x Pol) Add(y Pol) Pol {
	return Pol(uint64(x) ^ uint64(y))
}

// mulOverflows reports whether x*y would overflow a uint64.
func mulOverflows(a, b Pol) bool {
	if a <= 1 || b <= 1 {
		return false
	}
	c := a.mul(b)
	return c.Div(b) != a
}

func (x Pol) mul(y Pol) Pol {
	if x == 0 || y == 0 {
		return 0
	}

	var res Pol
	for i := 0; i <= y.Deg(); i++ {
		if (y & (1 << uint(i))) > 0 {
			res = res.Add(x << uint(i))
		}
	}
	return res
}

// Mul returns x*y over GF(2)[X] and panics on overflow.
func (x Pol) Mul(y Pol) Pol {
	if mulOverflows(x, y) {
		panic("multiplication would overflow uint64")
	}
	return x.mul(y)
}

// Deg returns the degree of x; the zero polynomial has degree -1.
func (x Pol) Deg() int {
	if x == 0 {
		return -1
	}

	var mask Pol = 1 << 63
	for i := 63; i >= 0; i-- {
		if x&mask > 0 {
			return i
		}
		mask >>= 1
	}
	return -1
}

// String returns the coefficients of x as a hex literal.
func (x Pol) String() string {
	return "0x" + strconv.FormatUint(uint64(x), 16)
}

// Expand returns x written out as a sum of powers of X, for diagnostics.
func (x Pol) Expand() string {
	if x == 0 {
		return "0"
	}

	s := ""
	for i := x.Deg(); i > 1; i-- {
		if x&(1<<uint(i)) > 0 {
			s += fmt.Sprintf("+x^%d", i)
		}
	}
	if x&2 > 0 {
		s += "+x"
	}
	if x&1 > 0 {
		s += "+1"
	}
	return s[1:]
}

// DivMod returns the quotient and remainder of x divided by d.
func (x Pol) DivMod(d Pol) (Pol, Pol) {
	if x == 0 {
		return 0, 0
	}
	if d == 0 {
		panic("division by zero")
	}

	deg := d.Deg()
	diff := x.Deg() - deg
	if diff < 0 {
		return 0, x
	}

	var q Pol
	for diff >= 0 {
		m := d << uint(diff)
		q |= 1 << uint(diff)
		x = x.Add(m)
		diff = x.Deg() - deg
	}
	return q, x
}

// Div returns x/d, discarding the remainder.
func (x Pol) Div(d Pol) Pol {
	q, _ := x.DivMod(d)
	return q
}

// Mod returns the remainder of x/d.
func (x Pol) Mod(d Pol) Pol {
	_, r := x.DivMod(d)
	return r
}

// maxPolynomialAttempts bounds the random search for an irreducible
// polynomial; it is very unlikely to ever be exhausted (there are on the
// order of 2^53/53 irreducible degree-53 polynomials over GF(2)).
const maxPolynomialAttempts = 1_000_000

// ErrNoSuitablePolynomialFound is returned when no irreducible polynomial of
// the required shape turns up within maxPolynomialAttempts draws.
var ErrNoSuitablePolynomialFound = errors.New("no suitable polynomial found")

// RandomPolynomial draws a random degree-53 polynomial suitable for seeding
// a content-defined chunker: 64 random bits are masked to the low 54 bits,
// then bit 53 and bit 0 are forced to one so the result has degree 53 and is
// not trivially reducible. The first draw that passes Irreducible (Ben-Or's
// test) is returned.
func RandomPolynomial() (Pol, error) {
	for i := 0; i < maxPolynomialAttempts; i++ {
		var f Pol
		if err := binary.Read(rand.Reader, binary.LittleEndian, &f); err != nil {
			return 0, err
		}

		f &= Pol((1 << 54) - 1)
		f |= (1 << 53) | 1

		if f.Irreducible() {
			return f, nil
		}
	}

	return 0, ErrNoSuitablePolynomialFound
}

// GCD computes the greatest common divisor of x and f in GF(2)[X].
func (x Pol) GCD(f Pol) Pol {
	if f == 0 {
		return x
	}
	if x == 0 {
		return f
	}
	if x.Deg() < f.Deg() {
		x, f = f, x
	}
	return f.GCD(x.Mod(f))
}

// Irreducible reports whether x is irreducible over GF(2), using Ben-Or's
// test: for every i in 1..=deg(x)/2, gcd(x, qp(i,x)) must equal 1, where
// qp(i,x) = X^(2^i) - X mod x.
//
// See "Tests and Constructions of Irreducible Polynomials over Finite
// Fields".
func (x Pol) Irreducible() bool {
	for i := 1; i <= x.Deg()/2; i++ {
		if x.GCD(qp(uint(i), x)) != 1 {
			return false
		}
	}
	return true
}

// MulMod computes x*f mod g, reducing after every doubling so the
// intermediate products never overflow uint64.
func (x Pol) MulMod(f, g Pol) Pol {
	if x == 0 || f == 0 {
		return 0
	}

	var res Pol
	for i := 0; i <= f.Deg(); i++ {
		if (f & (1 << uint(i))) > 0 {
			a := x
			for j := 0; j < i; j++ {
				a = a.Mul(2).Mod(g)
			}
			res = res.Add(a).Mod(g)
		}
	}
	return res
}

// qp computes X^(2^p) - X mod g by repeated squaring, the value Irreducible
// needs for each round of Ben-Or's test.
func qp(p uint, g Pol) Pol {
	num := 1 << p
	i := 1

	res := Pol(2) // X
	for i < num {
		res = res.MulMod(res, g)
		i *= 2
	}

	return res.Add(2).Mod(g)
}

// MarshalJSON encodes the polynomial as a hex string, so it can be
// persisted verbatim in the repository config.
func (p Pol) MarshalJSON() ([]byte, error) {
	buf := strconv.AppendUint([]byte{'"'}, uint64(p), 16)
	buf = append(buf, '"')
	return buf, nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Pol) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return errors.New("invalid string for polynomial")
	}
	n, err := strconv.ParseUint(string(data[1:len(data)-1]), 16, 64)
	if err != nil {
		return err
	}
	*p = Pol(n)
	return nil
}
