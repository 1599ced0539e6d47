package message

import (
	"fmt"
	"math"
	"time"

	"github.com/sonifyv1/posebridge/internal/types"
	"gonum.org/v1/gonum/mat"
)

const (
	// MaskSize is the side of the grid every segmentation mask is resized to
	MaskSize = 32
	// MaskThreshold is the probability the receiver treats as foreground
	MaskThreshold = 0.5
)

// FormatMask resizes the detector's probability mask to MaskSize x MaskSize
// and builds the segmentation record. A nil or empty mask yields nil.
func FormatMask(m *types.MaskResult, at time.Time) (*SegmentationRecord, error) {
	if m == nil || m.Width == 0 || m.Height == 0 || len(m.Data) == 0 {
		return nil, nil
	}

	if m.Width < 0 || m.Height < 0 || len(m.Data) != m.Width*m.Height {
		return nil, fmt.Errorf("mask is %dx%d but carries %d values", m.Width, m.Height, len(m.Data))
	}

	src := make([]float64, len(m.Data))
	for i, v := range m.Data {
		src[i] = float64(v)
	}

	small := ResizeBilinear(mat.NewDense(m.Height, m.Width, src), MaskSize, MaskSize)

	data := make([]float32, 0, MaskSize*MaskSize)
	for r := 0; r < MaskSize; r++ {
		for c := 0; c < MaskSize; c++ {
			data = append(data, float32(small.At(r, c)))
		}
	}

	return &SegmentationRecord{
		DetectionType: types.KindSegmentation.String(),
		Timestamp:     Timestamp(at),
		Mask: Mask{
			Width:     MaskSize,
			Height:    MaskSize,
			Threshold: MaskThreshold,
			Data:      data,
		},
	}, nil
}

// ResizeBilinear resamples src to rows x cols using bilinear interpolation
// with half-pixel centers and edge clamping, the same sampling OpenCV uses for
// its default linear resize.
func ResizeBilinear(src mat.Matrix, rows, cols int) *mat.Dense {
	srcRows, srcCols := src.Dims()
	dst := mat.NewDense(rows, cols, nil)

	scaleY := float64(srcRows) / float64(rows)
	scaleX := float64(srcCols) / float64(cols)

	for r := 0; r < rows; r++ {
		y0, y1, fy := samplePos(r, scaleY, srcRows)
		for c := 0; c < cols; c++ {
			x0, x1, fx := samplePos(c, scaleX, srcCols)

			top := src.At(y0, x0)*(1-fx) + src.At(y0, x1)*fx
			bottom := src.At(y1, x0)*(1-fx) + src.At(y1, x1)*fx
			dst.Set(r, c, top*(1-fy)+bottom*fy)
		}
	}

	return dst
}

// samplePos maps destination index i to its two neighbouring source indices
// and the weight of the second one
func samplePos(i int, scale float64, n int) (int, int, float64) {
	pos := (float64(i)+0.5)*scale - 0.5
	if pos < 0 {
		pos = 0
	}

	i0 := int(math.Floor(pos))
	if i0 >= n-1 {
		return n - 1, n - 1, 0
	}

	return i0, i0 + 1, pos - float64(i0)
}
