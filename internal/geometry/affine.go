// Package geometry holds the coordinate-frame primitives shared by the
// calibration model and the triangulation pipeline.
//
// Transforms are stored as row-major 4x4 homogeneous matrices so applying one to
// a point is a handful of multiply-adds; gonum is used for the operations that
// need real linear algebra (composition, inversion, quaternion rotation).
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Point3 is a 3D sample in length units of whatever frame it belongs to.
type Point3 = r3.Vec

// Point2 is a detected image-plane location in pixels.
type Point2 struct {
	X float64
	Y float64
}

// Affine is a rigid or affine transform held as a row-major 4x4 matrix.
// The zero value is not a valid transform; use Identity.
type Affine struct {
	pose [16]float64
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{pose: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// Translation returns a pure translation by t.
func Translation(t r3.Vec) Affine {
	a := Identity()
	a.pose[3] = t.X
	a.pose[7] = t.Y
	a.pose[11] = t.Z
	return a
}

// EulerXYZ builds the rotation quaternion for Euler angles in degrees using the
// XYZ convention: R = Rx(x)·Ry(y)·Rz(z), so z is applied to a vector first.
func EulerXYZ(deg r3.Vec) r3.Rotation {
	rx := r3.NewRotation(deg.X*math.Pi/180, r3.Vec{X: 1})
	ry := r3.NewRotation(deg.Y*math.Pi/180, r3.Vec{Y: 1})
	rz := r3.NewRotation(deg.Z*math.Pi/180, r3.Vec{Z: 1})
	q := quat.Mul(quat.Mul(quat.Number(rx), quat.Number(ry)), quat.Number(rz))
	return r3.Rotation(q)
}

// FromRotationTranslation returns the transform that rotates by rot and then
// translates by t.
func FromRotationTranslation(rot r3.Rotation, t r3.Vec) Affine {
	// Columns of the rotation block are the rotated basis vectors.
	ex := rot.Rotate(r3.Vec{X: 1})
	ey := rot.Rotate(r3.Vec{Y: 1})
	ez := rot.Rotate(r3.Vec{Z: 1})
	return Affine{pose: [16]float64{
		ex.X, ey.X, ez.X, t.X,
		ex.Y, ey.Y, ez.Y, t.Y,
		ex.Z, ey.Z, ez.Z, t.Z,
		0, 0, 0, 1,
	}}
}

// RotationEulerXYZ returns a pure rotation from Euler XYZ angles in degrees.
func RotationEulerXYZ(deg r3.Vec) Affine {
	return FromRotationTranslation(EulerXYZ(deg), r3.Vec{})
}

// RotationZ returns a rotation of angle radians about the Z axis.
func RotationZ(angle float64) Affine {
	return FromRotationTranslation(r3.NewRotation(angle, r3.Vec{Z: 1}), r3.Vec{})
}

// Pose returns the row-major matrix.
func (a Affine) Pose() [16]float64 {
	return a.pose
}

func (a Affine) dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, a.pose[:])
	return mat.NewDense(4, 4, data)
}

func fromDense(m mat.Matrix) Affine {
	var out Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out.pose[i*4+j] = m.At(i, j)
		}
	}
	return out
}

// Mul returns the composition a∘b: the result applies b first, then a.
func (a Affine) Mul(b Affine) Affine {
	var c mat.Dense
	c.Mul(a.dense(), b.dense())
	return fromDense(&c)
}

// Inverse returns the inverse transform. It fails only for singular matrices,
// which no rotation+translation can produce.
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.dense()); err != nil {
		return Affine{}, fmt.Errorf("invert transform: %w", err)
	}
	return fromDense(&inv), nil
}

// Apply maps p through the transform.
func (a Affine) Apply(p Point3) Point3 {
	x, y, z := ApplyPose(p.X, p.Y, p.Z, a.pose)
	return Point3{X: x, Y: y, Z: z}
}

// ApplyAll maps every point in place and returns the same slice.
func (a Affine) ApplyAll(points []Point3) []Point3 {
	for i, p := range points {
		points[i] = a.Apply(p)
	}
	return points
}

// ApplyPose applies a 4x4 row-major transform T to point (x,y,z).
// T is expected as [16]float64 row-major: m00,m01,m02,m03, m10,...
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
