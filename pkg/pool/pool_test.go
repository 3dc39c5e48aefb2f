package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClass(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{256, 8},
		{257, 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, class(tt.n), "class(%d)", tt.n)
	}
}

func TestGetFloat32s(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1 << 20})
	defer Configure(PoolConfig{Enabled: true, MaxSize: 1 << 28})

	t.Run("length and capacity", func(t *testing.T) {
		s := GetFloat32s(300)
		assert.Len(t, s, 300)
		assert.Equal(t, 512, cap(s))
		PutFloat32s(s)
	})

	t.Run("reused slices are zeroed", func(t *testing.T) {
		s := GetFloat32s(64)
		for i := range s {
			s[i] = float32(i + 1)
		}
		PutFloat32s(s)

		for i := 0; i < 4; i++ {
			r := GetFloat32s(64)
			for j, v := range r {
				if v != 0 {
					t.Fatalf("element %d = %v, want 0", j, v)
				}
			}
			PutFloat32s(r)
		}
	})

	t.Run("oversized slices bypass the pool", func(t *testing.T) {
		s := GetFloat32s(1<<20 + 1)
		assert.Len(t, s, 1<<20+1)
		assert.Equal(t, 1<<20+1, cap(s))
		PutFloat32s(s)
	})

	t.Run("foreign capacities are dropped", func(t *testing.T) {
		PutFloat32s(make([]float32, 10))
		PutFloat32s(nil)
	})
}

func TestDisabled(t *testing.T) {
	Configure(PoolConfig{Enabled: false})
	defer Configure(PoolConfig{Enabled: true, MaxSize: 1 << 28})

	assert.False(t, IsEnabled())
	s := GetFloat32s(100)
	assert.Len(t, s, 100)
	assert.Equal(t, 100, cap(s))
	PutFloat32s(s)
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s := GetFloat32s(128 + g)
				s[0] = float32(g)
				PutFloat32s(s)
			}
		}(g)
	}
	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := GetFloat32s(16 * 16)
		PutFloat32s(s)
	}
}
