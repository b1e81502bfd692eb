package math

import (
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulComposesColumnMajor(t *testing.T) {
	s := NewMat4Scale(NewVec3(2, 3, 1))
	tr := NewMat4Translation(NewVec3(1, 0, 0))

	// Scale then translate.
	m := s.Mul(tr)
	assert.Equal(t, Vec4{3, 3, 0, 1}, m.MulVec4(Vec4{1, 1, 0, 1}))
	assert.Equal(t, NewMat4Identity(), NewMat4Identity().Mul(NewMat4Identity()))
}

func TestOrthographic(t *testing.T) {
	m := NewMat4Orthographic(-2, 2, -1, 1, -1, 1)
	assert.Equal(t, Vec4{1, 1, 0, 1}, m.MulVec4(Vec4{2, 1, 0, 1}))
	assert.Equal(t, Vec4{-1, -1, 0, 1}, m.MulVec4(Vec4{-2, -1, 0, 1}))
}

func TestPerspective(t *testing.T) {
	m := NewMat4Perspective(float32(stdmath.Pi/2), 1, 1, 10)
	near := m.MulVec4(Vec4{0, 0, -1, 1})
	far := m.MulVec4(Vec4{0, 0, -10, 1})
	assert.InDelta(t, -1, near.Z/near.W, 1e-5)
	assert.InDelta(t, 1, far.Z/far.W, 1e-5)
}

func TestEulerZ(t *testing.T) {
	v := NewMat4EulerZ(float32(stdmath.Pi / 2)).MulVec4(Vec4{1, 0, 0, 1})
	assert.InDelta(t, 0, v.X, 1e-6)
	assert.InDelta(t, 1, v.Y, 1e-6)
}

func TestBytes(t *testing.T) {
	b := NewMat4Identity().Bytes()
	assert.Len(t, b, 64)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[0:4])
	assert.Equal(t, []byte{0, 0, 0, 0}, b[4:8])
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(5, 0, 1))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
	assert.Equal(t, -1.0, Clamp(-3.0, -1, 1))
}
