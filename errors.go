// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import "fmt"

// ImagingError is the single error type raised anywhere in the parameter
// model, info extraction, and transformation pipeline. Every error carries
// the HTTP status the router should respond with, mirroring the status
// column of the IIIF error taxonomy.
type ImagingError struct {
	Kind    string
	Status  int
	Message string
}

func (e *ImagingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind string, status int, format string, args ...any) *ImagingError {
	return &ImagingError{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

func newRegionSyntaxError(format string, args ...any) *ImagingError {
	return newError("RegionSyntaxError", 400, format, args...)
}

func newRegionRequestError(format string, args ...any) *ImagingError {
	return newError("RegionRequestError", 400, format, args...)
}

func newSizeSyntaxError(format string, args ...any) *ImagingError {
	return newError("SizeSyntaxError", 400, format, args...)
}

func newSizeRequestError(format string, args ...any) *ImagingError {
	return newError("SizeRequestError", 400, format, args...)
}

func newRotationSyntaxError(format string, args ...any) *ImagingError {
	return newError("RotationSyntaxError", 400, format, args...)
}

func newResolverError(format string, args ...any) *ImagingError {
	return newError("ResolverError", 404, format, args...)
}

func newImageInfoError(format string, args ...any) *ImagingError {
	return newError("ImageInfoError", 500, format, args...)
}

func newImageError(format string, args ...any) *ImagingError {
	return newError("ImageError", 500, format, args...)
}

func newFormatError(format string, args ...any) *ImagingError {
	return newError("FormatError", 400, format, args...)
}

func newQualityError(format string, args ...any) *ImagingError {
	return newError("QualityError", 400, format, args...)
}
