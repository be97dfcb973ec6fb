package verification

import (
	"bytes"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// sharpnessSaturation is the mean neighbour gradient at which an image counts as fully sharp.
const sharpnessSaturation = 8.0

const unreadableSharpness = 20

// ImageQuality is the local readability assessment of an image artifact.
type ImageQuality struct {
	Width       int
	Height      int
	Sharpness   int
	Resolution  int
	Readability int
	AverageHash uint64
}

func isImage(contentType string, data []byte) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return true
	}
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil
}

// AssessImage decodes data and scores how readable it is. Decoding failures are returned to the caller.
func AssessImage(data []byte, th Thresholds) (ImageQuality, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageQuality{}, err
	}
	b := img.Bounds()
	q := ImageQuality{Width: b.Dx(), Height: b.Dy()}

	gray := imaging.Grayscale(imaging.Fit(img, 512, 512, imaging.Box))
	q.Sharpness = clampScore(int(math.Round(meanGradient(gray) / sharpnessSaturation * 100)))

	q.Resolution = 100
	if th.MinImageWidth > 0 && th.MinImageHeight > 0 {
		wr := math.Min(1, float64(q.Width)/float64(th.MinImageWidth))
		hr := math.Min(1, float64(q.Height)/float64(th.MinImageHeight))
		q.Resolution = clampScore(int(math.Round(wr * hr * 100)))
	}
	q.Readability = clampScore(int(math.Round(0.7*float64(q.Sharpness) + 0.3*float64(q.Resolution))))
	q.AverageHash = averageHash(img)
	return q, nil
}

func (q ImageQuality) flags(th Thresholds) []Flag {
	var out []Flag
	if q.Sharpness < unreadableSharpness {
		out = append(out, FlagUnreadable)
	}
	if q.Width < th.MinImageWidth || q.Height < th.MinImageHeight {
		out = append(out, FlagLowResolution)
	}
	return out
}

// meanGradient is the mean absolute difference between horizontally and vertically adjacent pixels.
func meanGradient(img *image.NRGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(img.Pix[y*img.Stride+x*4])
	}
	var sum float64
	var n int
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			p := at(x, y)
			sum += math.Abs(p-at(x+1, y)) + math.Abs(p-at(x, y+1))
			n += 2
		}
	}
	return sum / float64(n)
}

// averageHash is the 64-bit aHash: an 8x8 grayscale thumbnail with one bit per pixel above the mean.
func averageHash(img image.Image) uint64 {
	thumb := imaging.Grayscale(imaging.Resize(img, 8, 8, imaging.Box))
	var px [64]float64
	var total float64
	for i := 0; i < 64; i++ {
		v := float64(thumb.Pix[(i/8)*thumb.Stride+(i%8)*4])
		px[i] = v
		total += v
	}
	mean := total / 64
	var hash uint64
	for i, v := range px {
		if v > mean {
			hash |= 1 << uint(63-i)
		}
	}
	return hash
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
