// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

// Config is a flat configuration surface mirroring the recognized option
// names in §6. A file- or flag-based loader (out of scope per §1) can
// populate this struct directly; the field-to-option-name mapping is
// recorded in each comment rather than struct tags, matching the teacher's
// own plain-struct configuration style (no mapstructure/viper dependency).
type Config struct {
	// TempDir is scratch space for in-flight derivative builds.
	// loris.tmp_dp
	TempDir string

	// EnableCaching disables both the derivative and info caches when
	// false, serving every request as a fresh build.
	// loris.enable_caching
	EnableCaching bool

	// RedirectCanonicalImageRequest issues a 301 to the canonical URI
	// form when an image request is non-canonical.
	// loris.redirect_canonical_image_request
	RedirectCanonicalImageRequest bool

	// RedirectIDSlashToInfo issues a 303 to "<identifier>/info.json" for
	// an empty-tail identifier request.
	// loris.redirect_id_slash_to_info
	RedirectIDSlashToInfo bool

	// ResolverImpl selects the registered Resolver implementation.
	// resolver.impl
	ResolverImpl string

	// ResolverConfig is passed through verbatim to the chosen Resolver's
	// factory.
	ResolverConfig map[string]string

	// TargetFormats is the allowed output format set advertised in
	// info.json and enforced on image requests.
	// transforms.target_formats
	TargetFormats []Format

	// TransformerImpl selects the registered Transformer implementation
	// used for the (currently singular) source format this core
	// supports, JPEG 2000.
	// transforms.jp2.impl
	TransformerImpl string

	// TransformerConfig is passed through verbatim to the chosen
	// Transformer's factory.
	TransformerConfig map[string]string

	// DerivativeCacheDir is the root of the derivative cache.
	// img.ImageCache.cache_dp
	DerivativeCacheDir string

	// InfoCacheDir is the root of the info cache.
	// img_info.InfoCache.cache_dp
	InfoCacheDir string

	// InfoCacheMemoryBytes bounds the info cache's in-memory LRU front;
	// zero disables the in-memory layer entirely.
	InfoCacheMemoryBytes int64
}

// DefaultConfig returns a Config with the reference resolver/transformer
// implementations selected and caching enabled, suitable as a starting
// point for tests and the cmd/iiifimage binary.
func DefaultConfig() Config {
	return Config{
		EnableCaching:                 true,
		RedirectCanonicalImageRequest: true,
		RedirectIDSlashToInfo:         true,
		ResolverImpl:                  "SimpleFSResolver",
		TargetFormats:                 []Format{FormatJPG, FormatPNG, FormatGIF, FormatTIF},
		TransformerImpl:               "JP2Transformer",
		InfoCacheMemoryBytes:          64 << 20,
	}
}
