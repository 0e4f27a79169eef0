package roi

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/skycam/skycover/pkg/mask"
)

const (
	blurKernel       = 7
	apertureCutoff   = 10 // grayscale brightness below this is camera housing
	apertureMaxValue = 255
)

// DetectCircle finds the circular sky aperture typical of fisheye sky
// cameras: grayscale, Gaussian blur, low-brightness threshold, largest
// external contour, minimum enclosing circle, filled disc. When no contour
// is found the whole frame is treated as ROI so every pixel stays
// cloud-eligible.
func DetectCircle(img image.Image) *mask.Mask {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return mask.Ones(w, h)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)

	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(blur, &thresh, apertureCutoff, apertureMaxValue, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return mask.Ones(w, h)
	}

	largest := 0
	largestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a > largestArea {
			largestArea = a
			largest = i
		}
	}

	x, y, radius := gocv.MinEnclosingCircle(contours.At(largest))
	m := mask.New(w, h)
	m.FillCircle(int(x), int(y), int(radius))
	return m
}
