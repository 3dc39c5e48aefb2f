package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New(3)
	require.NoError(t, err)
	assert.Equal(t, 3, m.N)
	assert.Len(t, m.Data, 9)

	_, err = New(0)
	assert.ErrorIs(t, err, ErrShape)
	_, err = New(-1)
	assert.ErrorIs(t, err, ErrShape)
}

func TestFromSlice(t *testing.T) {
	m, err := FromSlice(2, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(3), m.At(1, 0))

	_, err = FromSlice(2, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrShape)
}

func TestIdentityAndFilled(t *testing.T) {
	id, err := Identity(4)
	require.NoError(t, err)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := float32(0)
			if r == c {
				want = 1
			}
			assert.Equal(t, want, id.At(r, c))
		}
	}

	f, err := Filled(3, 2)
	require.NoError(t, err)
	for _, v := range f.Data {
		assert.Equal(t, float32(2), v)
	}
}

func TestGeneratorIsReproducible(t *testing.T) {
	a1, err := NewGenerator(42).Random(8)
	require.NoError(t, err)
	a2, err := NewGenerator(42).Random(8)
	require.NoError(t, err)
	assert.True(t, Equal(a1, a2))

	b, err := NewGenerator(43).Random(8)
	require.NoError(t, err)
	assert.False(t, Equal(a1, b))

	for _, v := range a1.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestMul(t *testing.T) {
	a, _ := FromSlice(2, []float32{1, 2, 3, 4})
	b, _ := FromSlice(2, []float32{5, 6, 7, 8})

	c, err := Mul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, c.Data)

	_, err = Mul(a, &Matrix{N: 3, Data: make([]float32, 9)})
	assert.ErrorIs(t, err, ErrShape)
}

func TestMulBLASMatchesNaive(t *testing.T) {
	g := NewGenerator(7)
	for _, n := range []int{1, 5, 16, 33} {
		a, _ := g.Random(n)
		b, _ := g.Random(n)

		naive, err := Mul(a, b)
		require.NoError(t, err)
		ref, err := MulBLAS(a, b)
		require.NoError(t, err)
		assert.NoError(t, Compare(naive, ref, 1e-4), "n=%d", n)
	}
}

func TestCompare(t *testing.T) {
	want, _ := FromSlice(2, []float32{1000, 0, 1, -5})

	t.Run("within tolerance", func(t *testing.T) {
		got, _ := FromSlice(2, []float32{1000.05, 0.00005, 1, -5})
		assert.NoError(t, Compare(got, want, 1e-4))
	})

	t.Run("mismatch reports position", func(t *testing.T) {
		got, _ := FromSlice(2, []float32{1000, 0, 1, -4})
		err := Compare(got, want, 1e-4)
		var mm *MismatchError
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, 1, mm.Row)
		assert.Equal(t, 1, mm.Col)
		assert.InDelta(t, 0.2, mm.RelErr, 1e-9)
	})

	t.Run("max relative error", func(t *testing.T) {
		got, _ := FromSlice(2, []float32{1001, 0, 1, -5})
		e, err := MaxRelError(got, want)
		require.NoError(t, err)
		assert.InDelta(t, 1e-3, e, 1e-9)
	})
}

func TestChecksum(t *testing.T) {
	a, _ := FromSlice(2, []float32{1, 2, 3, 4})
	b := a.Clone()
	assert.Equal(t, a.Checksum(), b.Checksum())
	assert.Len(t, a.Checksum(), 64)

	b.Set(0, 0, 1.0000001)
	assert.NotEqual(t, a.Checksum(), b.Checksum())

	// Same data, different shape.
	c, _ := FromSlice(1, []float32{1})
	d, _ := FromSlice(1, []float32{1})
	assert.Equal(t, c.Checksum(), d.Checksum())
	assert.NotEqual(t, a.Checksum(), c.Checksum())
}

func TestEqualDistinguishesSignedZero(t *testing.T) {
	a, _ := FromSlice(1, []float32{0})
	b, _ := FromSlice(1, []float32{float32(negZero())})
	assert.False(t, Equal(a, b))
}

func negZero() float64 {
	z := 0.0
	return -z
}
