// Package geometry holds the square crop applied to every frame before
// detection and the inverse mapping of detector coordinates into the fixed
// output space shared with the downstream application.
package geometry

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// OutputSize is the side of the square coordinate space every published
// landmark targets, independent of camera resolution.
const OutputSize = 640

// CropContext describes how a frame was reduced to a centered square region
type CropContext struct {
	// OffsetX and OffsetY locate the crop's top-left corner in the original frame
	OffsetX int
	OffsetY int
	// Size is the side of the square crop
	Size int
	// OrigWidth and OrigHeight are the dimensions of the original frame
	OrigWidth  int
	OrigHeight int
}

// Crop calculates the centered square crop of a width x height frame. An
// already square frame crops to itself.
func Crop(width, height int) (CropContext, error) {
	if width <= 0 || height <= 0 {
		return CropContext{}, fmt.Errorf("cannot crop a %dx%d frame", width, height)
	}

	if width == height {
		return CropContext{Size: width, OrigWidth: width, OrigHeight: height}, nil
	}

	size := min(width, height)

	return CropContext{
		OffsetX:    (width - size) / 2,
		OffsetY:    (height - size) / 2,
		Size:       size,
		OrigWidth:  width,
		OrigHeight: height,
	}, nil
}

// Rect returns the crop region in original frame pixel coordinates
func (c CropContext) Rect() image.Rectangle {
	return image.Rect(c.OffsetX, c.OffsetY, c.OffsetX+c.Size, c.OffsetY+c.Size)
}

// subImager is satisfied by all the concrete image types in the image package
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// CropImage returns the centered square region of img along with the context
// needed to map detections back. The returned image shares pixels with img
// when the image type supports it.
func CropImage(img image.Image) (image.Image, CropContext, error) {
	b := img.Bounds()

	crop, err := Crop(b.Dx(), b.Dy())
	if err != nil {
		return nil, CropContext{}, err
	}

	if crop.Size == b.Dx() && crop.Size == b.Dy() {
		return img, crop, nil
	}

	region := crop.Rect().Add(b.Min)

	if s, ok := img.(subImager); ok {
		return s.SubImage(region), crop, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, crop.Size, crop.Size))
	xdraw.Copy(dst, image.Point{}, img, region, xdraw.Src, nil)

	return dst, crop, nil
}

// ScaleSquare resizes a square image to side x side. A side of zero, or one
// matching the image already, returns img untouched. Normalized detector
// coordinates are unaffected by this scaling so the CropContext stays valid.
func ScaleSquare(img image.Image, side int) image.Image {
	b := img.Bounds()
	if side <= 0 || (b.Dx() == side && b.Dy() == side) {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)

	return dst
}
