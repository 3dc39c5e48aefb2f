package gpu

import (
	"errors"
	"fmt"

	"github.com/orneryd/tilegemm/pkg/matrix"
)

// Tolerance is the relative error allowed against the CPU reference.
const Tolerance = 1e-4

// Check is the outcome of one self-check case.
type Check struct {
	Name string
	Err  error
}

// Passed reports whether the case succeeded.
func (c Check) Passed() bool { return c.Err == nil }

// SelfCheck runs the correctness cases for the tiled kernel on l's device:
// agreement with the naive reference at and around tile boundaries, the
// identity and zero products, exact results for I×2 and for all-ones across
// a partial tile, and bit-identical repeated runs.
func SelfCheck(l *Launcher, seed uint64) []Check {
	var checks []Check
	add := func(name string, err error) {
		checks = append(checks, Check{Name: name, Err: err})
	}

	g := matrix.NewGenerator(seed)
	for _, n := range []int{1, 16, 17, 32, 33, 48} {
		add(fmt.Sprintf("reference n=%d", n), checkReference(l, g, n))
	}
	add("identity", checkIdentity(l, g))
	add("zero", checkZero(l, g))
	add("identity times twos n=16", checkIdentityTwos(l))
	add("ones n=17", checkOnes(l))
	add("deterministic", checkDeterministic(l, g))
	return checks
}

func checkReference(l *Launcher, g *matrix.Generator, n int) error {
	a, err := g.Random(n)
	if err != nil {
		return err
	}
	b, err := g.Random(n)
	if err != nil {
		return err
	}
	res, err := l.MatMul(a, b)
	if err != nil {
		return err
	}
	want, err := matrix.Mul(a, b)
	if err != nil {
		return err
	}
	return matrix.Compare(res.C, want, Tolerance)
}

func checkIdentity(l *Launcher, g *matrix.Generator) error {
	a, err := g.Random(33)
	if err != nil {
		return err
	}
	id, err := matrix.Identity(33)
	if err != nil {
		return err
	}
	res, err := l.MatMul(a, id)
	if err != nil {
		return err
	}
	if !matrix.Equal(res.C, a) {
		return errors.New("A×I differs from A")
	}
	return nil
}

func checkZero(l *Launcher, g *matrix.Generator) error {
	a, err := g.Random(20)
	if err != nil {
		return err
	}
	zero, err := matrix.New(20)
	if err != nil {
		return err
	}
	res, err := l.MatMul(a, zero)
	if err != nil {
		return err
	}
	if !matrix.Equal(res.C, zero) {
		return errors.New("A×0 is not zero")
	}
	return nil
}

func checkIdentityTwos(l *Launcher) error {
	id, err := matrix.Identity(16)
	if err != nil {
		return err
	}
	twos, err := matrix.Filled(16, 2)
	if err != nil {
		return err
	}
	return checkConstant(l, id, twos, 2)
}

func checkOnes(l *Launcher) error {
	ones, err := matrix.Filled(17, 1)
	if err != nil {
		return err
	}
	return checkConstant(l, ones, ones, 17)
}

// checkConstant expects every element of A×B to equal want exactly.
func checkConstant(l *Launcher, a, b *matrix.Matrix, want float32) error {
	res, err := l.MatMul(a, b)
	if err != nil {
		return err
	}
	n := res.C.N
	for i, v := range res.C.Data {
		if v != want {
			return fmt.Errorf("element (%d, %d) = %g, want %g", i/n, i%n, v, want)
		}
	}
	return nil
}

func checkDeterministic(l *Launcher, g *matrix.Generator) error {
	a, err := g.Random(45)
	if err != nil {
		return err
	}
	b, err := g.Random(45)
	if err != nil {
		return err
	}
	first, err := l.MatMul(a, b)
	if err != nil {
		return err
	}
	second, err := l.MatMul(a, b)
	if err != nil {
		return err
	}
	if first.C.Checksum() != second.C.Checksum() {
		return fmt.Errorf("checksums differ: %s, %s", first.C.Checksum(), second.C.Checksum())
	}
	return nil
}
