// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// The IIIF tile precision requirement calls for at least 25 significant
	// digits; decimal's package default of 16 is not enough for sub-pixel
	// tile-boundary math.
	decimal.DivisionPrecision = 25
}

var decimalOne = decimal.NewFromInt(1)
var decimalHundred = decimal.NewFromInt(100)

// RegionMode is the tagged variant of an IIIF region slice.
type RegionMode int

const (
	RegionFull RegionMode = iota
	RegionPercent
	RegionPixel
)

// Region is the normalized result of parsing a region URI slice against an
// ImageInfo. PixelX/Y/W/H are always clamped to the source image bounds.
type Region struct {
	Mode     RegionMode
	Literal  string
	PixelX   int
	PixelY   int
	PixelW   int
	PixelH   int
	DecimalX decimal.Decimal
	DecimalY decimal.Decimal
	DecimalW decimal.Decimal
	DecimalH decimal.Decimal
}

// Canonical returns the canonical URI form of the region: "full" or
// "x,y,w,h" in clamped pixel units.
func (r Region) Canonical() string {
	if r.Mode == RegionFull {
		return "full"
	}
	return strconv.Itoa(r.PixelX) + "," + strconv.Itoa(r.PixelY) + "," +
		strconv.Itoa(r.PixelW) + "," + strconv.Itoa(r.PixelH)
}

// ParseRegion parses the region slice of an IIIF image request URI.
func ParseRegion(segment string, info *ImageInfo) (Region, error) {
	switch {
	case segment == "full":
		return Region{
			Mode: RegionFull, Literal: segment,
			PixelX: 0, PixelY: 0, PixelW: info.Width, PixelH: info.Height,
			DecimalX: decimal.Zero, DecimalY: decimal.Zero,
			DecimalW: decimalOne, DecimalH: decimalOne,
		}, nil
	case strings.HasPrefix(segment, "pct:"):
		return parseRegionPercent(segment, info)
	default:
		return parseRegionPixel(segment, info)
	}
}

func parseRegionPercent(segment string, info *ImageInfo) (Region, error) {
	parts := strings.Split(strings.TrimPrefix(segment, "pct:"), ",")
	if len(parts) != 4 {
		return Region{}, newRegionSyntaxError("region %q must have exactly 4 coordinates", segment)
	}

	var floats [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Region{}, newRegionSyntaxError("region %q is not valid percent syntax", segment)
		}
		floats[i] = f
	}
	for _, f := range floats {
		if f > 100 {
			return Region{}, newRegionRequestError("region percentages must be less than or equal to 100")
		}
	}
	if floats[2] <= 0 || floats[3] <= 0 {
		return Region{}, newRegionRequestError("width and height percentages must be greater than 0")
	}

	decX := decimal.NewFromFloat(floats[0]).Div(decimalHundred)
	decY := decimal.NewFromFloat(floats[1]).Div(decimalHundred)
	decW := decimal.NewFromFloat(floats[2]).Div(decimalHundred)
	decH := decimal.NewFromFloat(floats[3]).Div(decimalHundred)

	pxX := int(decX.Mul(decimal.NewFromInt(int64(info.Width))).Round(0).IntPart())
	pxY := int(decY.Mul(decimal.NewFromInt(int64(info.Height))).Round(0).IntPart())
	pxW := int(decW.Mul(decimal.NewFromInt(int64(info.Width))).Round(0).IntPart())
	pxH := int(decH.Mul(decimal.NewFromInt(int64(info.Height))).Round(0).IntPart())

	r := Region{
		Mode: RegionPercent, Literal: segment,
		PixelX: pxX, PixelY: pxY, PixelW: pxW, PixelH: pxH,
		DecimalX: decX, DecimalY: decY, DecimalW: decW, DecimalH: decH,
	}
	return clampAndValidateRegion(r, info)
}

func parseRegionPixel(segment string, info *ImageInfo) (Region, error) {
	parts := strings.Split(segment, ",")
	if len(parts) != 4 {
		return Region{}, newRegionSyntaxError("region %q is not valid", segment)
	}

	var ints [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Region{}, newRegionSyntaxError("region %q is not valid pixel syntax", segment)
		}
		ints[i] = n
	}
	if ints[2] <= 0 || ints[3] <= 0 {
		return Region{}, newRegionRequestError("width and height must be greater than 0")
	}

	width := decimal.NewFromInt(int64(info.Width))
	height := decimal.NewFromInt(int64(info.Height))

	r := Region{
		Mode: RegionPixel, Literal: segment,
		PixelX: ints[0], PixelY: ints[1], PixelW: ints[2], PixelH: ints[3],
		DecimalX: decimal.NewFromInt(int64(ints[0])).DivRound(width, 25),
		DecimalY: decimal.NewFromInt(int64(ints[1])).DivRound(height, 25),
		DecimalW: decimal.NewFromInt(int64(ints[2])).DivRound(width, 25),
		DecimalH: decimal.NewFromInt(int64(ints[3])).DivRound(height, 25),
	}
	return clampAndValidateRegion(r, info)
}

func clampAndValidateRegion(r Region, info *ImageInfo) (Region, error) {
	if r.DecimalX.Add(r.DecimalW).GreaterThan(decimalOne) {
		r.DecimalW = decimalOne.Sub(r.DecimalX)
		r.PixelW = info.Width - r.PixelX
	}
	if r.DecimalY.Add(r.DecimalH).GreaterThan(decimalOne) {
		r.DecimalH = decimalOne.Sub(r.DecimalY)
		r.PixelH = info.Height - r.PixelY
	}

	if r.PixelX < 0 || r.PixelY < 0 {
		return Region{}, newRegionRequestError("x and y region parameters must be 0 or greater (%s)", r.Literal)
	}
	if !r.DecimalX.LessThan(decimalOne) {
		return Region{}, newRegionRequestError("x parameter exceeds image width (image width is %d)", info.Width)
	}
	if !r.DecimalY.LessThan(decimalOne) {
		return Region{}, newRegionRequestError("y parameter exceeds image height (image height is %d)", info.Height)
	}

	return r, nil
}

// SizeMode is the tagged variant of an IIIF size slice.
type SizeMode int

const (
	SizeFull SizeMode = iota
	SizePercent
	SizeWidthOnly
	SizeHeightOnly
	SizeBestFit
	SizeExact
)

// Size is the normalized result of parsing a size URI slice against a Region.
type Size struct {
	Mode        SizeMode
	Literal     string
	W           int
	H           int
	ForceAspect bool
}

// Canonical returns the canonical URI form of the size: "full" or "W,H".
func (s Size) Canonical() string {
	if s.Mode == SizeFull {
		return "full"
	}
	return strconv.Itoa(s.W) + "," + strconv.Itoa(s.H)
}

// ParseSize parses the size slice of an IIIF image request URI against the
// already-normalized region. preferredDimension is 'w' or 'h' and is used to
// break ties in best-fit ("!") mode.
func ParseSize(segment string, region Region, preferredDimension byte) (Size, error) {
	switch {
	case segment == "full":
		return Size{Mode: SizeFull, Literal: segment, W: region.PixelW, H: region.PixelH}, nil
	case strings.HasPrefix(segment, "pct:"):
		return parseSizePercent(segment, region)
	case strings.HasSuffix(segment, ",") && !strings.HasPrefix(segment, ","):
		return parseSizeWidthOnly(segment, region)
	case strings.HasPrefix(segment, ","):
		return parseSizeHeightOnly(segment, region)
	case strings.HasPrefix(segment, "!"):
		return parseSizeBestFit(segment, region, preferredDimension)
	case strings.Contains(segment, ","):
		return parseSizeExact(segment, region)
	default:
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}
}

func parseSizePercent(segment string, region Region) (Size, error) {
	raw := strings.TrimPrefix(segment, "pct:")
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return Size{}, newSizeSyntaxError("size %q is not valid percent syntax", segment)
	}
	if !p.GreaterThan(decimal.Zero) {
		return Size{}, newSizeRequestError("percentage supplied must be greater than 0 (%s)", segment)
	}
	frac := p.Div(decimalHundred)
	w := int(decimal.NewFromInt(int64(region.PixelW)).Mul(frac).Round(0).IntPart())
	h := int(decimal.NewFromInt(int64(region.PixelH)).Mul(frac).Round(0).IntPart())
	return validateSize(Size{Mode: SizePercent, Literal: segment, W: w, H: h})
}

func parseSizeWidthOnly(segment string, region Region) (Size, error) {
	w, err := strconv.Atoi(strings.TrimSuffix(segment, ","))
	if err != nil {
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}
	h := deriveOtherDimension(w, region.PixelW, region.PixelH)
	return validateSize(Size{Mode: SizeWidthOnly, Literal: segment, W: w, H: h})
}

func parseSizeHeightOnly(segment string, region Region) (Size, error) {
	h, err := strconv.Atoi(strings.TrimPrefix(segment, ","))
	if err != nil {
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}
	w := deriveOtherDimension(h, region.PixelH, region.PixelW)
	return validateSize(Size{Mode: SizeHeightOnly, Literal: segment, W: w, H: h})
}

func parseSizeBestFit(segment string, region Region, preferredDimension byte) (Size, error) {
	parts := strings.Split(strings.TrimPrefix(segment, "!"), ",")
	if len(parts) != 2 {
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}
	reqW, err1 := strconv.Atoi(parts[0])
	reqH, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}

	widthSmaller := reqW < region.PixelW
	heightSmaller := reqH < region.PixelH

	var keepWidth bool
	switch {
	case widthSmaller == heightSmaller:
		// both smaller or both larger than the region: use the preferred axis.
		keepWidth = preferredDimension != 'h'
	case reqW > region.PixelW:
		keepWidth = false
	default:
		keepWidth = true
	}

	var w, h int
	if keepWidth {
		w = reqW
		h = deriveOtherDimension(reqW, region.PixelW, region.PixelH)
	} else {
		h = reqH
		w = deriveOtherDimension(reqH, region.PixelH, region.PixelW)
	}
	return validateSize(Size{Mode: SizeBestFit, Literal: segment, W: w, H: h})
}

func parseSizeExact(segment string, region Region) (Size, error) {
	parts := strings.Split(segment, ",")
	if len(parts) != 2 {
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return Size{}, newSizeSyntaxError("size %q is not valid", segment)
	}
	return validateSize(Size{Mode: SizeExact, Literal: segment, W: w, H: h, ForceAspect: true})
}

func deriveOtherDimension(given, regionGiven, regionOther int) int {
	reduceBy := decimal.NewFromInt(int64(given)).DivRound(decimal.NewFromInt(int64(regionGiven)), 25)
	return int(decimal.NewFromInt(int64(regionOther)).Mul(reduceBy).Round(0).IntPart())
}

func validateSize(s Size) (Size, error) {
	if s.W <= 0 || s.H <= 0 {
		return Size{}, newSizeRequestError("width and height must both be positive numbers (%s)", s.Literal)
	}
	return s, nil
}

// Rotation is the normalized result of parsing a rotation URI slice.
type Rotation struct {
	Literal string
	Snapped int // one of 0, 90, 180, 270, 360
}

// Canonical returns the canonical URI form of the rotation. 360 canonicalizes
// to 0, per the resolved open question in §9.
func (r Rotation) Canonical() string {
	return strconv.Itoa(r.Snapped % 360)
}

// ParseRotation parses the rotation slice of an IIIF image request URI.
func ParseRotation(segment string) (Rotation, error) {
	for _, c := range segment {
		if c < '0' || c > '9' {
			return Rotation{}, newRotationSyntaxError("rotation %q is not a number", segment)
		}
	}
	if segment == "" {
		return Rotation{}, newRotationSyntaxError("rotation %q is not a number", segment)
	}
	raw, err := strconv.Atoi(segment)
	if err != nil || raw < 0 || raw > 360 {
		return Rotation{}, newRotationSyntaxError("rotation %q is not between 0 and 360", segment)
	}
	snapped := 90 * int(roundHalfAwayFromZero(float64(raw)/90))
	return Rotation{Literal: segment, Snapped: snapped}, nil
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

// Quality is one of the four IIIF image quality values.
type Quality string

const (
	QualityDefault Quality = "default"
	QualityColor   Quality = "color"
	QualityGray    Quality = "gray"
	QualityBitonal Quality = "bitonal"
)

// ParseQuality validates a quality segment.
func ParseQuality(segment string) (Quality, error) {
	switch Quality(segment) {
	case QualityDefault, QualityColor, QualityGray, QualityBitonal:
		return Quality(segment), nil
	default:
		return "", newQualityError("quality %q is not recognized", segment)
	}
}

// Format is one of the six IIIF output formats.
type Format string

const (
	FormatJPG Format = "jpg"
	FormatPNG Format = "png"
	FormatGIF Format = "gif"
	FormatTIF Format = "tif"
	FormatPDF Format = "pdf"
	FormatJP2 Format = "jp2"
)

var mediaTypeByFormat = map[Format]string{
	FormatJPG: "image/jpeg",
	FormatPNG: "image/png",
	FormatGIF: "image/gif",
	FormatTIF: "image/tiff",
	FormatPDF: "application/pdf",
	FormatJP2: "image/jp2",
}

// MediaType returns the HTTP content type for a Format.
func (f Format) MediaType() string { return mediaTypeByFormat[f] }

// ParseFormat validates a format segment.
func ParseFormat(segment string) (Format, error) {
	switch Format(segment) {
	case FormatJPG, FormatPNG, FormatGIF, FormatTIF, FormatPDF, FormatJP2:
		return Format(segment), nil
	default:
		return "", newFormatError("format %q is not recognized", segment)
	}
}

// ImageRequest is the full tuple of an IIIF image request, normalized
// against a source ImageInfo.
type ImageRequest struct {
	Identifier string
	Region     Region
	Size       Size
	Rotation   Rotation
	Quality    Quality
	Format     Format
}

// LiteralPath returns the request path using each parameter's as-requested
// (literal) form.
func (ir ImageRequest) LiteralPath() string {
	return ir.Identifier + "/" + ir.Region.Literal + "/" + ir.Size.Literal + "/" +
		ir.Rotation.Literal + "/" + string(ir.Quality) + "." + string(ir.Format)
}

// CanonicalPath returns the request path using each parameter's canonical
// form.
func (ir ImageRequest) CanonicalPath() string {
	return ir.Identifier + "/" + ir.Region.Canonical() + "/" + ir.Size.Canonical() + "/" +
		ir.Rotation.Canonical() + "/" + string(ir.Quality) + "." + string(ir.Format)
}

// IsCanonical reports whether every component's literal form already equals
// its canonical form.
func (ir ImageRequest) IsCanonical() bool {
	return ir.Region.Literal == ir.Region.Canonical() &&
		ir.Size.Literal == ir.Size.Canonical() &&
		ir.Rotation.Literal == ir.Rotation.Canonical()
}
