package geometry

// Point is a landmark position in output space. X and Y are in output pixels,
// Z is the detector's relative depth passed through unchanged.
type Point struct {
	X float64
	Y float64
	Z float64
}

// Map transforms a normalized crop-space coordinate into output space. The
// steps are applied in order: crop pixels, original frame pixels, then the
// stretch of the original frame onto the OutputSize square. No clamping is
// done, so landmarks the detector places outside [0,1] land outside the
// output square.
func (c CropContext) Map(x, y, z float64) Point {
	cropX := x * float64(c.Size)
	cropY := y * float64(c.Size)

	origX := cropX + float64(c.OffsetX)
	origY := cropY + float64(c.OffsetY)

	return Point{
		X: origX / float64(c.OrigWidth) * OutputSize,
		Y: origY / float64(c.OrigHeight) * OutputSize,
		Z: z,
	}
}

// Triple returns the point in the compact [x, y, z] form used by the hand and
// face records
func (p Point) Triple() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}
