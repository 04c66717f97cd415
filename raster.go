// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
	"willnorris.com/go/gifresize"
)

// resampleFilter is the filter used for all resize operations. Exposed as a
// package variable so tests can swap in a simpler filter, matching the
// teacher's own test harness.
var resampleFilter = imaging.Lanczos

// applyRotation rotates img by deg degrees counter-clockwise, where deg is
// one of 0, 90, 180, 270 (360 is pre-normalized to 0 by Rotation.Canonical).
func applyRotation(img image.Image, deg int) image.Image {
	switch deg % 360 {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return img
	}
}

// applySize resizes img to the requested width/height, honoring
// force_aspect: a forced-aspect request stretches to the exact dimensions, a
// non-forced request fits within them preserving aspect ratio (§4.3).
func applySize(img image.Image, w, h int, forceAspect bool) image.Image {
	if forceAspect {
		return imaging.Resize(img, w, h, resampleFilter)
	}
	return imaging.Fit(img, w, h, resampleFilter)
}

// applyQuality applies the quality operator: bitonal thresholds to
// black/white, gray desaturates, color/default are identity (§4.3).
func applyQuality(img image.Image, quality Quality) image.Image {
	switch quality {
	case QualityBitonal:
		return toBitonal(img)
	case QualityGray:
		return imaging.Grayscale(img)
	default:
		return img
	}
}

// toBitonal thresholds img to pure black/white at the midpoint gray value.
func toBitonal(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.GrayModel.Convert(gray.At(x, y)).(color.Gray)
			if c.Y < 128 {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// encodeFormat encodes img to w in the target format, applying the final
// size transformation along the way for formats whose libraries encode and
// resize as a single step (gif).
func encodeFormat(w io.Writer, img image.Image, format Format, size Size) error {
	switch format {
	case FormatJPG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(90))
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case FormatTIF:
		return tiff.Encode(w, img, nil)
	case FormatGIF:
		return encodeGIF(w, img, size)
	case FormatPDF:
		return encodePDF(w, img)
	default:
		return newImageError("no encoder registered for format %q", format)
	}
}

// encodeGIF wraps the single-frame raster as a GIF and runs it through
// gifresize, the same library the teacher uses for its own GIF resize path
// (willnorris.com/go/gifresize), rather than reaching for image/gif's own
// (non-resizing) encoder directly.
func encodeGIF(w io.Writer, img image.Image, size Size) error {
	var frame bytes.Buffer
	if err := gif.Encode(&frame, img, nil); err != nil {
		return newImageError("encoding intermediate GIF frame: %v", err)
	}
	return gifresize.Resize(&frame, w, gifresize.Options{Width: size.W, Height: size.H})
}

// encodePDF wraps a single JPEG-compressed raster page in a minimal PDF
// container. No library in the retrieval pack offers PDF generation; see
// DESIGN.md for why this is one of the few stdlib-only code paths.
func encodePDF(w io.Writer, img image.Image) error {
	var jpegBuf bytes.Buffer
	if err := imaging.Encode(&jpegBuf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return newImageError("encoding PDF page image: %v", err)
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	var buf bytes.Buffer
	offsets := make([]int, 0, 5)

	buf.WriteString("%PDF-1.4\n")
	offsets = append(offsets, buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets = append(offsets, buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "3 0 obj\n<< /Type /Page /Parent 2 0 R /Resources << /XObject << /Im0 5 0 R >> >> /MediaBox [0 0 %d %d] /Contents 4 0 R >>\nendobj\n", width, height)
	offsets = append(offsets, buf.Len())
	content := fmt.Sprintf("q %d 0 0 %d 0 0 cm /Im0 Do Q", width, height)
	fmt.Fprintf(&buf, "4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content)
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "5 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n", width, height, jpegBuf.Len())
	buf.Write(jpegBuf.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xrefStart)

	_, err := w.Write(buf.Bytes())
	return err
}
