// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Command iiifimage serves an IIIF Image API Level 2 endpoint backed by a
// filesystem of JPEG 2000 source images.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strings"

	iiifimage "go.iiifcore.dev/iiifimage"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "TCP address to listen on")
	sourceRoot := flag.String("source-root", "", "directory SimpleFSResolver resolves identifiers against")
	decoderPath := flag.String("decoder", "", "path to the external JPEG 2000 decoder executable")
	derivativeCacheDir := flag.String("derivative-cache", "", "directory for the derivative cache (empty disables on-disk caching)")
	infoCacheDir := flag.String("info-cache", "", "directory for the info cache (empty disables on-disk caching)")
	targetFormats := flag.String("formats", "jpg,png,gif,tif", "comma-separated list of allowed output formats")
	redirectCanonical := flag.Bool("redirect-canonical", true, "301 redirect non-canonical image requests")
	flag.Parse()

	if *sourceRoot == "" {
		log.Fatal("-source-root is required")
	}
	if *decoderPath == "" {
		log.Fatal("-decoder is required")
	}

	cfg := iiifimage.DefaultConfig()
	cfg.ResolverConfig = map[string]string{"src_img_root": *sourceRoot}
	cfg.TransformerConfig = map[string]string{"decoder": *decoderPath}
	cfg.DerivativeCacheDir = *derivativeCacheDir
	cfg.InfoCacheDir = *infoCacheDir
	cfg.EnableCaching = *derivativeCacheDir != "" || *infoCacheDir != ""
	cfg.RedirectCanonicalImageRequest = *redirectCanonical
	cfg.TargetFormats = parseFormats(*targetFormats)

	srv, err := iiifimage.NewServer(cfg)
	if err != nil {
		log.Fatalf("building server: %v", err)
	}
	srv.Logger = log.New(os.Stderr, "iiifimage: ", log.LstdFlags)

	log.Printf("listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, srv))
}

func parseFormats(s string) []iiifimage.Format {
	var out []iiifimage.Format
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, iiifimage.Format(f))
		}
	}
	return out
}
