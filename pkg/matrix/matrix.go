// Package matrix holds the host-side square float32 matrices the launcher
// multiplies, plus the CPU references used to check device results.
package matrix

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/crypto/blake2b"
)

// ErrShape is returned when a matrix's dimensions are invalid or two
// matrices do not conform.
var ErrShape = errors.New("matrix: invalid shape")

// Matrix is an N×N row-major float32 matrix. len(Data) == N*N.
type Matrix struct {
	N    int
	Data []float32
}

// New returns a zero N×N matrix.
func New(n int) (*Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrShape, n)
	}
	return &Matrix{N: n, Data: make([]float32, n*n)}, nil
}

// FromSlice wraps data as an N×N matrix without copying.
func FromSlice(n int, data []float32) (*Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrShape, n)
	}
	if len(data) != n*n {
		return nil, fmt.Errorf("%w: %d elements for a %dx%d matrix", ErrShape, len(data), n, n)
	}
	return &Matrix{N: n, Data: data}, nil
}

// Filled returns an N×N matrix with every element set to v.
func Filled(n int, v float32) (*Matrix, error) {
	m, err := New(n)
	if err != nil {
		return nil, err
	}
	for i := range m.Data {
		m.Data[i] = v
	}
	return m, nil
}

// Identity returns the N×N identity matrix.
func Identity(n int) (*Matrix, error) {
	m, err := New(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		m.Data[i*n+i] = 1
	}
	return m, nil
}

// Generator produces reproducible random matrices.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed. Two generators with the
// same seed produce the same sequence of matrices.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Random returns an N×N matrix of values uniform in [0, 1).
func (g *Generator) Random(n int) (*Matrix, error) {
	m, err := New(n)
	if err != nil {
		return nil, err
	}
	for i := range m.Data {
		m.Data[i] = g.rng.Float32()
	}
	return m, nil
}

// Len returns N*N.
func (m *Matrix) Len() int { return m.N * m.N }

// At returns the element at row r, column c.
func (m *Matrix) At(r, c int) float32 { return m.Data[r*m.N+c] }

// Set sets the element at row r, column c.
func (m *Matrix) Set(r, c int, v float32) { m.Data[r*m.N+c] = v }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{N: m.N, Data: append([]float32(nil), m.Data...)}
}

// Validate checks the length invariant.
func (m *Matrix) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil matrix", ErrShape)
	}
	if m.N <= 0 || len(m.Data) != m.N*m.N {
		return fmt.Errorf("%w: %d elements for a %dx%d matrix", ErrShape, len(m.Data), m.N, m.N)
	}
	return nil
}

// Conform checks that a and b are valid and the same size.
func Conform(a, b *Matrix) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if a.N != b.N {
		return fmt.Errorf("%w: %dx%d and %dx%d", ErrShape, a.N, a.N, b.N, b.N)
	}
	return nil
}

// Equal reports whether a and b have the same size and bit-identical
// elements.
func Equal(a, b *Matrix) bool {
	if a.N != b.N || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if math.Float32bits(a.Data[i]) != math.Float32bits(b.Data[i]) {
			return false
		}
	}
	return true
}

// Checksum returns the hex BLAKE2b-256 digest of the matrix size and the
// little-endian bit patterns of its elements. Bit-identical matrices have
// equal checksums.
func (m *Matrix) Checksum() string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m.N))
	h.Write(buf[:])

	chunk := make([]byte, 0, 4096)
	for _, v := range m.Data {
		chunk = binary.LittleEndian.AppendUint32(chunk, math.Float32bits(v))
		if len(chunk) == cap(chunk) {
			h.Write(chunk)
			chunk = chunk[:0]
		}
	}
	h.Write(chunk)
	return hex.EncodeToString(h.Sum(nil))
}
