// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Transformer is a per-source-format strategy that produces a derivative
// image on disk from a source file and a normalized ImageRequest, per §4.3.
type Transformer interface {
	// TargetFormats returns the set of output Formats this source format
	// can be transformed into.
	TargetFormats() []Format

	// Transform synchronously produces the derivative at targetPath.
	Transform(ctx context.Context, sourcePath, targetPath string, req ImageRequest, info *ImageInfo) error
}

// TransformerFactory builds a Transformer from a flat string-keyed config,
// mirroring the Resolver registry pattern.
type TransformerFactory func(config map[string]string) (Transformer, error)

var transformerRegistry = map[string]TransformerFactory{}

// RegisterTransformer adds a named Transformer implementation to the
// registry.
func RegisterTransformer(name string, factory TransformerFactory) {
	transformerRegistry[name] = factory
}

// NewTransformer builds a registered Transformer by configuration name.
func NewTransformer(impl string, config map[string]string) (Transformer, error) {
	factory, ok := transformerRegistry[impl]
	if !ok {
		return nil, newImageError("no transformer registered under %q", impl)
	}
	return factory(config)
}

func init() {
	RegisterTransformer("JP2Transformer", func(config map[string]string) (Transformer, error) {
		targets := []Format{FormatJPG, FormatPNG, FormatGIF, FormatTIF}
		return &JP2Transformer{DecoderPath: config["decoder"], targets: targets}, nil
	})
}

// JP2Transformer decodes JPEG 2000 sources via an external decoder
// subprocess and re-encodes the raster into one of its target formats,
// per §4.3. The decoder binary itself is an external collaborator (§1); this
// type only constructs its invocation and consumes its output.
type JP2Transformer struct {
	// DecoderPath is the path to the external JP2 decoder executable. It
	// is expected to accept "-i <source>", "-r <reduce>", "-d
	// <top,left,height,width>" (decimal region, ≥25 significant digits),
	// and to write a PNG raster to stdout.
	DecoderPath string

	targets []Format
}

// TargetFormats implements Transformer.
func (t *JP2Transformer) TargetFormats() []Format { return t.targets }

// selectReduceLevel picks the largest reduce factor r in [0, levels-1] such
// that the region decoded at region/2^r still has both dimensions at least
// as large as the requested output size (no upscaling), per §4.3 step 1.
func selectReduceLevel(levels, regionW, regionH, outW, outH int) int {
	r := 0
	for cand := 1; cand < levels; cand++ {
		factor := 1 << uint(cand)
		if regionW/factor >= outW && regionH/factor >= outH {
			r = cand
			continue
		}
		break
	}
	return r
}

// Transform implements Transformer.
func (t *JP2Transformer) Transform(ctx context.Context, sourcePath, targetPath string, req ImageRequest, info *ImageInfo) error {
	reduce := selectReduceLevel(len(info.ScaleFactors), req.Region.PixelW, req.Region.PixelH, req.Size.W, req.Size.H)

	raster, err := t.decode(ctx, sourcePath, req, reduce)
	if err != nil {
		return err
	}

	raster = applyRotation(raster, req.Rotation.Snapped%360)
	raster = applySize(raster, req.Size.W, req.Size.H, req.Size.ForceAspect)
	raster = applyQuality(raster, req.Quality)

	return writeAtomic(targetPath, func(w io.Writer) error {
		return encodeFormat(w, raster, req.Format, req.Size)
	})
}

// decode invokes the external decoder subprocess, piping its stdout (a PNG
// raster) through an OS pipe rather than a temporary file where possible,
// per §4.3's requirement to avoid persisting the intermediate raster.
func (t *JP2Transformer) decode(ctx context.Context, sourcePath string, req ImageRequest, reduce int) (image.Image, error) {
	region := req.Region
	argv := []string{
		t.DecoderPath,
		"-i", sourcePath,
		"-r", fmt.Sprintf("%d", reduce),
		"-d", fmt.Sprintf("%s,%s,%s,%s",
			region.DecimalY.String(), region.DecimalX.String(),
			region.DecimalH.String(), region.DecimalW.String()),
		"-o", "-",
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newImageError("creating decoder pipe: %v", err)
	}

	var decodeErr error
	var raster image.Image
	done := make(chan struct{})

	if err := cmd.Start(); err != nil {
		return nil, newImageError("starting decoder %q: %v", t.DecoderPath, err)
	}

	go func() {
		defer close(done)
		raster, decodeErr = png.Decode(stdout)
	}()

	<-done
	waitErr := cmd.Wait()

	if decodeErr != nil {
		return nil, newImageError("decoding raster from %q: %v", t.DecoderPath, decodeErr)
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, newImageError("decoder %q timed out or was canceled", t.DecoderPath)
		}
		return nil, newImageError("decoder %q failed: %v", t.DecoderPath, waitErr)
	}

	return raster, nil
}

// writeAtomic writes through a temporary file in the same directory as path
// and renames it into place on success, so no partially-written derivative
// is ever visible under its final name (§5).
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newImageError("creating cache directory %q: %v", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return newImageError("creating temporary file in %q: %v", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return newImageError("closing temporary file %q: %v", tmpPath, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return newImageError("renaming %q into place: %v", tmpPath, err)
	}
	return nil
}
