// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

// JP2 codestream marker codes. Every marker begins with 0xFF; see ISO/IEC
// 15444-1 Annex A.
const (
	markerSOC = 0xFF4F // start of codestream
	markerSIZ = 0xFF51 // image and tile size
	markerCOD = 0xFF52 // coding style default
	markerSOT = 0xFF90 // start of tile-part; stop scanning once reached
)

// ImageInfo is the immutable, source-derived description of an image used to
// drive parameter normalization and populate the info.json response. It is
// constructed once per identifier and cached.
type ImageInfo struct {
	Identifier    string
	BaseURI       string
	Width         int
	Height        int
	TileWidth     int
	TileHeight    int
	Levels        int
	ScaleFactors  []int
	ColorChannels int
	Qualities     []Quality
	Formats       []Format
}

// readJP2Header scans a JPEG 2000 codestream for the SIZ and COD markers
// without decoding any pixel data, per §4.2.
func readJP2Header(r io.Reader) (width, height, tileW, tileH, levels, channels int, err error) {
	var sizSeen, codSeen bool
	for !sizSeen || !codSeen {
		marker, perr := readUint16(r)
		if perr != nil {
			return 0, 0, 0, 0, 0, 0, newImageInfoError("truncated JPEG 2000 stream: %v", perr)
		}

		switch marker {
		case markerSOC:
			continue
		case markerSIZ:
			w, h, c, perr := parseSIZ(r)
			if perr != nil {
				return 0, 0, 0, 0, 0, 0, perr
			}
			width, height, channels = w, h, c
			sizSeen = true
		case markerCOD:
			tw, th, lv, perr := parseCOD(r)
			if perr != nil {
				return 0, 0, 0, 0, 0, 0, perr
			}
			tileW, tileH, levels = tw, th, lv
			codSeen = true
		case markerSOT:
			return 0, 0, 0, 0, 0, 0, newImageInfoError("reached tile data before locating required markers")
		default:
			if marker&0xFF00 != 0xFF00 {
				return 0, 0, 0, 0, 0, 0, newImageInfoError("malformed marker 0x%04X in JPEG 2000 stream", marker)
			}
			length, perr := readUint16(r)
			if perr != nil {
				return 0, 0, 0, 0, 0, 0, newImageInfoError("truncated marker segment: %v", perr)
			}
			if length < 2 {
				return 0, 0, 0, 0, 0, 0, newImageInfoError("invalid marker segment length")
			}
			if err := skip(r, int(length)-2); err != nil {
				return 0, 0, 0, 0, 0, 0, newImageInfoError("truncated marker segment: %v", err)
			}
		}
	}

	return width, height, tileW, tileH, levels, channels, nil
}

// parseSIZ reads the SIZ marker segment. The dispatch loop consumes only the
// marker code, so Lsiz is skipped here along with Rsiz; callers invoke this
// right after the marker code is read.
func parseSIZ(r io.Reader) (width, height, channels int, err error) {
	// Lsiz (2 bytes) + Rsiz (2 bytes) are skipped per §4.2.
	if err := skip(r, 4); err != nil {
		return 0, 0, 0, newImageInfoError("truncated SIZ marker: %v", err)
	}
	xsiz, err := readUint32(r)
	if err != nil {
		return 0, 0, 0, newImageInfoError("truncated SIZ marker: %v", err)
	}
	ysiz, err := readUint32(r)
	if err != nil {
		return 0, 0, 0, newImageInfoError("truncated SIZ marker: %v", err)
	}
	// XOsiz, YOsiz, XTsiz, YTsiz, XTOsiz, YTOsiz: 6 * 4 bytes.
	if err := skip(r, 24); err != nil {
		return 0, 0, 0, newImageInfoError("truncated SIZ marker: %v", err)
	}
	// Csiz: number of components (2 bytes).
	csiz, err := readUint16(r)
	if err != nil {
		return 0, 0, 0, newImageInfoError("truncated SIZ marker: %v", err)
	}
	// The remaining 3 bytes per component (Ssiz, XRsiz, YRsiz) are not
	// needed to recover dimensions or channel count.
	if err := skip(r, int(csiz)*3); err != nil {
		return 0, 0, 0, newImageInfoError("truncated SIZ marker: %v", err)
	}
	return int(xsiz), int(ysiz), int(csiz), nil
}

// parseCOD reads the COD marker segment body to recover the decomposition
// level count and, when Scod's precinct-size bit is set, the tile dimensions
// implied by the finest resolution level's precinct size. When that bit is
// clear, the codestream uses the implicit maximum precinct size (2^15),
// which for the purposes of this core's info.json means the tile covers the
// full image extent; callers default tileW/tileH to the image dimensions in
// that case.
func parseCOD(r io.Reader) (tileW, tileH, levels int, err error) {
	// Lcod (2 bytes).
	lcod, err := readUint16(r)
	if err != nil {
		return 0, 0, 0, newImageInfoError("truncated COD marker: %v", err)
	}
	// Scod (1 byte). Bit 0 indicates precinct sizes are present below.
	scod, err := readByte(r)
	if err != nil {
		return 0, 0, 0, newImageInfoError("truncated COD marker: %v", err)
	}
	// SGcod: progression order (1), number of layers (2), MCT (1).
	if err := skip(r, 4); err != nil {
		return 0, 0, 0, newImageInfoError("truncated COD marker: %v", err)
	}
	// SPcod: number of decomposition levels (1 byte), immediately after the
	// fixed SGcod fields.
	numDecomp, err := readByte(r)
	if err != nil {
		return 0, 0, 0, newImageInfoError("truncated COD marker: %v", err)
	}
	levels = int(numDecomp) + 1

	// SPcod continues with code-block width/height exponents, code-block
	// style, and the wavelet transform: 4 fixed bytes, not needed for tile
	// derivation but must be consumed to reach the optional precinct array.
	if err := skip(r, 4); err != nil {
		return 0, 0, 0, newImageInfoError("truncated COD marker: %v", err)
	}
	consumed := 1 /*Scod*/ + 4 /*SGcod*/ + 1 /*numDecomp*/ + 4 /*cblk+style+transform*/

	if scod&0x01 != 0 {
		precincts := make([]byte, levels)
		if _, perr := io.ReadFull(r, precincts); perr != nil {
			return 0, 0, 0, newImageInfoError("truncated COD precinct sizes: %v", perr)
		}
		consumed += levels

		// Each byte packs PPx in the low nibble and PPy in the high nibble;
		// the last entry is the finest resolution level's precinct size,
		// which this core reports as the tile size.
		finest := precincts[len(precincts)-1]
		ppx := finest & 0x0F
		ppy := (finest >> 4) & 0x0F
		tileW = 1 << ppx
		tileH = 1 << ppy
	}

	remaining := int(lcod) - 2 - consumed
	if remaining > 0 {
		if err := skip(r, remaining); err != nil {
			return 0, 0, 0, newImageInfoError("truncated COD marker: %v", err)
		}
	}

	return tileW, tileH, levels, nil
}

// DeriveQualities computes the set of supported qualities from a component
// (color channel) count, per §4.2. bitonal is always advertised, consistent
// with level 2 conformance (§9 open question, resolved).
func DeriveQualities(channels int) []Quality {
	qualities := []Quality{QualityDefault, QualityBitonal}
	if channels >= 1 {
		qualities = append(qualities, QualityGray)
	}
	if channels >= 3 {
		qualities = append(qualities, QualityColor)
	}
	return qualities
}

// scaleFactors returns [1, 2, 4, ..., 2^(levels-1)].
func scaleFactors(levels int) []int {
	factors := make([]int, 0, levels)
	f := 1
	for i := 0; i < levels; i++ {
		factors = append(factors, f)
		f *= 2
	}
	return factors
}

// NewImageInfoFromJP2 constructs an ImageInfo by reading a JPEG 2000
// codestream header (no pixel decode), per §4.2.
func NewImageInfoFromJP2(identifier, baseURI string, r io.Reader, targetFormats []Format) (*ImageInfo, error) {
	width, height, tileW, tileH, levels, channels, err := readJP2Header(r)
	if err != nil {
		return nil, err
	}
	if tileW == 0 {
		tileW = width
	}
	if tileH == 0 {
		tileH = height
	}
	return &ImageInfo{
		Identifier:    identifier,
		BaseURI:       baseURI,
		Width:         width,
		Height:        height,
		TileWidth:     tileW,
		TileHeight:    tileH,
		Levels:        levels,
		ScaleFactors:  scaleFactors(levels),
		ColorChannels: channels,
		Qualities:     DeriveQualities(channels),
		Formats:       targetFormats,
	}, nil
}

// infoJSONDoc is the wire layout of an info.json response, bit-compatible
// with IIIF Image API 2.0.
type infoJSONDoc struct {
	Context  string        `json:"@context"`
	ID       string        `json:"@id"`
	Protocol string        `json:"protocol"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Tiles    []tileDoc     `json:"tiles"`
	Profile  []interface{} `json:"profile"`
}

type tileDoc struct {
	Width        int   `json:"width"`
	ScaleFactors []int `json:"scaleFactors"`
}

type profileDetailDoc struct {
	Qualities []string `json:"qualities"`
	Formats   []string `json:"formats"`
}

// ToJSON renders the info.json document for this ImageInfo.
func (info *ImageInfo) ToJSON() ([]byte, error) {
	qualities := make([]string, len(info.Qualities))
	for i, q := range info.Qualities {
		qualities[i] = string(q)
	}
	formats := make([]string, len(info.Formats))
	for i, f := range info.Formats {
		formats[i] = string(f)
	}

	doc := infoJSONDoc{
		Context:  "http://iiif.io/api/image/2/context.json",
		ID:       info.BaseURI,
		Protocol: "http://iiif.io/api/image",
		Width:    info.Width,
		Height:   info.Height,
		Tiles: []tileDoc{
			{Width: info.TileWidth, ScaleFactors: info.ScaleFactors},
		},
		Profile: []interface{}{
			"http://iiif.io/api/image/2/level2.json",
			profileDetailDoc{Qualities: qualities, Formats: formats},
		},
	}
	return json.Marshal(&doc)
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func skip(r io.Reader, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, int64(n))
	return err
}
