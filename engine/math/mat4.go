package math

import stdmath "math"

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{x, y, z}
}

/**
 * @brief Creates and returns an identity matrix:
 *
 * {
 *   {1, 0, 0, 0},
 *   {0, 1, 0, 0},
 *   {0, 0, 1, 0},
 *   {0, 0, 0, 1}
 * }
 */
func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

/**
 * @brief Returns the result of multiplying mt and other, indexing both as
 * row-major. On column-major data this is other * mt.
 */
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

// MulVec4 transforms v by the column-major matrix mt.
func (mt Mat4) MulVec4(v Vec4) Vec4 {
	in := [4]float32{v.X, v.Y, v.Z, v.W}
	var out [4]float32
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			out[row] += mt.Data[col*4+row] * in[col]
		}
	}
	return Vec4{out[0], out[1], out[2], out[3]}
}

/**
 * @brief Creates and returns an OpenGL-style orthographic projection: Y up,
 * depth mapped to [-1, 1].
 */
func NewMat4Orthographic(left, right, bottom, top, nearClip, farClip float32) Mat4 {
	out := NewMat4Identity()

	lr := 1.0 / (left - right)
	bt := 1.0 / (bottom - top)
	nf := 1.0 / (nearClip - farClip)

	out.Data[0] = -2.0 * lr
	out.Data[5] = -2.0 * bt
	out.Data[10] = 2.0 * nf

	out.Data[12] = (left + right) * lr
	out.Data[13] = (top + bottom) * bt
	out.Data[14] = (farClip + nearClip) * nf
	return out
}

/**
 * @brief Creates and returns an OpenGL-style perspective projection.
 */
func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	halfTanFov := float32(stdmath.Tan(float64(fovRadians) * 0.5))
	out := Mat4{}
	out.Data[0] = 1.0 / (aspectRatio * halfTanFov)
	out.Data[5] = 1.0 / halfTanFov
	out.Data[10] = -((farClip + nearClip) / (farClip - nearClip))
	out.Data[11] = -1.0
	out.Data[14] = -((2.0 * farClip * nearClip) / (farClip - nearClip))
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4Scale(scale Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = scale.X
	out.Data[5] = scale.Y
	out.Data[10] = scale.Z
	return out
}

/**
 * @brief Creates a rotation matrix around the z axis.
 */
func NewMat4EulerZ(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	s, c := stdmath.Sincos(float64(angleRadians))
	out.Data[0] = float32(c)
	out.Data[1] = float32(s)
	out.Data[4] = float32(-s)
	out.Data[5] = float32(c)
	return out
}

// Bytes returns the matrix as 64 little-endian bytes, the layout of a WGSL
// mat4x4<f32>.
func (mt Mat4) Bytes() []byte {
	out := make([]byte, 0, 64)
	for _, f := range mt.Data {
		b := stdmath.Float32bits(f)
		out = append(out, byte(b), byte(b>>8), byte(b>>16), byte(b>>24))
	}
	return out
}
