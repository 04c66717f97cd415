// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps an opaque identifier to a source file path and its format
// tag. Implementations are pluggable by configuration name, per §9 — no
// runtime class discovery is needed; callers select an implementation via
// RegisterResolver/NewResolver.
type Resolver interface {
	Resolve(identifier string) (path string, format Format, err error)
}

// ResolverFactory builds a Resolver from a flat string-keyed config, mirroring
// the "registry mapping configuration strings to factory closures" pattern
// called for in §9.
type ResolverFactory func(config map[string]string) (Resolver, error)

var resolverRegistry = map[string]ResolverFactory{}

// RegisterResolver adds a named Resolver implementation to the registry.
func RegisterResolver(name string, factory ResolverFactory) {
	resolverRegistry[name] = factory
}

// NewResolver builds a registered Resolver by configuration name.
func NewResolver(impl string, config map[string]string) (Resolver, error) {
	factory, ok := resolverRegistry[impl]
	if !ok {
		return nil, newResolverError("no resolver registered under %q", impl)
	}
	return factory(config)
}

func init() {
	RegisterResolver("SimpleFSResolver", func(config map[string]string) (Resolver, error) {
		return &FilesystemResolver{Root: config["src_img_root"]}, nil
	})
}

// FilesystemResolver resolves an identifier to <root>/<identifier>, inferring
// the source format from the file extension. It is the reference
// implementation named in §9 (equivalent to Loris's SimpleFSResolver).
type FilesystemResolver struct {
	Root string
}

var formatByExtension = map[string]Format{
	".jpg":  FormatJPG,
	".jpeg": FormatJPG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".tif":  FormatTIF,
	".tiff": FormatTIF,
	".pdf":  FormatPDF,
	".jp2":  FormatJP2,
}

// Resolve implements Resolver.
func (fr *FilesystemResolver) Resolve(identifier string) (string, Format, error) {
	if identifier == "" || strings.Contains(identifier, "..") {
		return "", "", newResolverError("refusing to resolve identifier %q", identifier)
	}

	path := filepath.Join(fr.Root, identifier)
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		if format, ok := formatByExtension[strings.ToLower(filepath.Ext(path))]; ok {
			return path, format, nil
		}
	}

	for ext, format := range formatByExtension {
		candidate := path + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, format, nil
		}
	}

	return "", "", newResolverError("could not resolve identifier: %s", identifier)
}
