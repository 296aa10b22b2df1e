// Package preprocess normalizes uploaded receipt images into an OCR-friendly
// form: decode whatever the phone produced (JPEG, PNG, GIF, HEIC, or a PDF
// page), scale down to a bounded resolution, and stretch contrast so faded
// thermal-paper text stands out.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	// maxDimension bounds the larger of width/height after scaling.
	maxDimension = 1500
	// contrast is the fixed linear contrast stretch parameter.
	contrast = 1.5
	// jpegQuality is the re-encode quality of the normalized image.
	jpegQuality = 90
)

// DecodeError reports an image that could not be read or normalized. It is
// fatal for the submission that carried the image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Normalize decodes an uploaded image, scales it so neither dimension
// exceeds 1500px (never upscaling), applies the contrast stretch, and
// re-encodes it as JPEG. The returned bytes are what the OCR engine sees.
func Normalize(data []byte, contentType string) ([]byte, error) {
	img, err := decode(data, contentType)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	img = scaleDown(img)
	img = stretchContrast(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding normalized image: %w", err)
	}
	return buf.Bytes(), nil
}

// decode handles the formats phones and scanners actually produce. PDFs are
// rendered from their first page; most receipts are single page.
func decode(data []byte, contentType string) (image.Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case mimeType == "application/pdf":
		doc, err := fitz.NewFromMemory(data)
		if err != nil {
			return nil, fmt.Errorf("opening PDF: %w", err)
		}
		defer doc.Close()
		img, err := doc.Image(0)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page: %w", err)
		}
		return img, nil

	case isHEICData(data) || isHEICMimeType(mimeType):
		// Go's standard image package has no HEIC support; iPhones default
		// to it.
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC image: %w", err)
		}
		return img, nil

	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return img, nil
	}
}

// scaleDown fits the image inside the maxDimension bound, preserving aspect
// ratio. Images already inside the bound pass through untouched.
func scaleDown(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= maxDimension && bounds.Dy() <= maxDimension {
		return img
	}
	return imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
}

// stretchContrast applies the linear contrast stretch
// v -> clamp(f*(v-128)+128) per RGB channel with the fixed factor
// f = 259*(c+255) / (255*(259-c)). Alpha is untouched.
func stretchContrast(img image.Image) image.Image {
	factor := (259.0 * (contrast + 255.0)) / (255.0 * (259.0 - contrast))
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: stretchChannel(c.R, factor),
			G: stretchChannel(c.G, factor),
			B: stretchChannel(c.B, factor),
			A: c.A,
		}
	})
}

func stretchChannel(v uint8, factor float64) uint8 {
	stretched := factor*(float64(v)-128.0) + 128.0
	if stretched < 0 {
		return 0
	}
	if stretched > 255 {
		return 255
	}
	return uint8(stretched)
}

// isHEICData sniffs the ftyp box brands HEIC containers start with.
func isHEICData(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
