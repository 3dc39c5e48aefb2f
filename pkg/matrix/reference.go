package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Mul returns a×b computed with the naive triple loop, accumulating each
// element in float32 in k order.
func Mul(a, b *Matrix) (*Matrix, error) {
	if err := Conform(a, b); err != nil {
		return nil, err
	}
	n := a.N
	c, _ := New(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for k := 0; k < n; k++ {
				sum += float32(a.Data[i*n+k] * b.Data[k*n+j])
			}
			c.Data[i*n+j] = sum
		}
	}
	return c, nil
}

// MulBLAS returns a×b computed by gonum's SGEMM.
func MulBLAS(a, b *Matrix) (*Matrix, error) {
	if err := Conform(a, b); err != nil {
		return nil, err
	}
	n := a.N
	c, _ := New(n)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: n, Cols: n, Stride: n, Data: a.Data},
		blas32.General{Rows: n, Cols: n, Stride: n, Data: b.Data},
		0,
		blas32.General{Rows: n, Cols: n, Stride: n, Data: c.Data},
	)
	return c, nil
}

// MismatchError describes the first element outside tolerance.
type MismatchError struct {
	Row, Col  int
	Got, Want float32
	RelErr    float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("matrix: element (%d, %d) = %g, want %g (relative error %.3g)",
		e.Row, e.Col, e.Got, e.Want, e.RelErr)
}

// relErr is |got-want| scaled by max(|want|, 1), so values near zero are
// compared absolutely.
func relErr(got, want float32) float64 {
	if got == want {
		return 0
	}
	g, w := float64(got), float64(want)
	if math.IsNaN(g) || math.IsNaN(w) || math.IsInf(g, 0) || math.IsInf(w, 0) {
		return math.Inf(1)
	}
	return math.Abs(g-w) / math.Max(math.Abs(w), 1)
}

// Compare returns a *MismatchError for the first element of got whose
// relative error against want exceeds tol, or nil when all are within tol.
func Compare(got, want *Matrix, tol float64) error {
	if err := Conform(got, want); err != nil {
		return err
	}
	n := got.N
	for i := range got.Data {
		if e := relErr(got.Data[i], want.Data[i]); e > tol {
			return &MismatchError{Row: i / n, Col: i % n, Got: got.Data[i], Want: want.Data[i], RelErr: e}
		}
	}
	return nil
}

// MaxRelError returns the largest per-element relative error of got against
// want.
func MaxRelError(got, want *Matrix) (float64, error) {
	if err := Conform(got, want); err != nil {
		return 0, err
	}
	var worst float64
	for i := range got.Data {
		worst = math.Max(worst, relErr(got.Data[i], want.Data[i]))
	}
	return worst, nil
}
