// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "iiifimage_request_duration_seconds",
		Help: "Time spent serving image and info.json requests.",
	})
	metricRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iiifimage_requests_in_flight",
		Help: "Number of requests currently being served.",
	})
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iiifimage_derivative_cache_hits_total",
		Help: "Derivative cache lookups that found an existing blob.",
	})
	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iiifimage_derivative_cache_misses_total",
		Help: "Derivative cache lookups that required a new build.",
	})
	metricDecoderInvocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iiifimage_decoder_invocations_total",
		Help: "Number of external decoder subprocess invocations.",
	})
)

var (
	reImagePath = regexp.MustCompile(`^(.+)/([^/]+)/([^/]+)/([^/]+)/([^/]+)\.([A-Za-z0-9]+)$`)
	reInfoPath  = regexp.MustCompile(`^(.+)/info\.json$`)
)

// Server wires the resolver, info cache, derivative cache, and transformers
// together behind an http.Handler, per §6.
type Server struct {
	Config Config
	Logger *log.Logger

	resolver     Resolver
	derivative   *DerivativeCache
	info         *InfoCache
	transformers map[Format]Transformer
}

// NewServer builds a Server from cfg, constructing the resolver, caches,
// and transformer named in cfg.
func NewServer(cfg Config) (*Server, error) {
	resolver, err := NewResolver(cfg.ResolverImpl, cfg.ResolverConfig)
	if err != nil {
		return nil, err
	}

	transformer, err := NewTransformer(cfg.TransformerImpl, cfg.TransformerConfig)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Config:       cfg,
		resolver:     resolver,
		transformers: map[Format]Transformer{FormatJP2: transformer},
	}

	if cfg.EnableCaching {
		if cfg.DerivativeCacheDir != "" {
			s.derivative, err = NewDerivativeCache(cfg.DerivativeCacheDir)
			if err != nil {
				return nil, err
			}
		}
		if cfg.InfoCacheDir != "" {
			s.info = NewInfoCache(cfg.InfoCacheDir, cfg.InfoCacheMemoryBytes)
		}
	}

	return s, nil
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/favicon.ico":
		w.WriteHeader(http.StatusNoContent)
		return
	case "/", "/index.html":
		fmt.Fprint(w, "IIIF Image API Level 2 service")
		return
	case "/metrics":
		promhttp.Handler().ServeHTTP(w, r)
		return
	}

	timer := prometheus.NewTimer(metricRequestDuration)
	metricRequestsInFlight.Inc()
	defer func() {
		timer.ObserveDuration()
		metricRequestsInFlight.Dec()
	}()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Add("Link", `<http://iiif.io/api/image/2/level2.json>;rel="profile"`)

	tail := strings.TrimPrefix(r.URL.Path, "/")

	if m := reInfoPath.FindStringSubmatch(tail); m != nil {
		s.handleInfo(w, r, m[1])
		return
	}

	if m := reImagePath.FindStringSubmatch(tail); m != nil {
		s.handleImage(w, r, m[1], m[2], m[3], m[4], m[5], m[6])
		return
	}

	identifier := strings.TrimSuffix(tail, "/")
	if identifier != "" && !strings.Contains(identifier, "/") {
		if s.Config.RedirectIDSlashToInfo {
			http.Redirect(w, r, "/"+identifier+"/info.json", http.StatusSeeOther)
			return
		}
	}

	http.Error(w, "not found", http.StatusNotFound)
}

// handleInfo serves GET /<identifier>/info.json, per §4.6 and the
// JSONP/ld+json expansion.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, identifier string) {
	info, firstSeen, err := s.loadInfo(r.Context(), identifier)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body, err := info.ToJSON()
	if err != nil {
		s.writeError(w, newImageInfoError("marshaling info.json for %q: %v", identifier, err))
		return
	}

	if !firstSeen.IsZero() {
		w.Header().Set("Last-Modified", firstSeen.UTC().Format(http.TimeFormat))
		if ifMod := r.Header.Get("If-Modified-Since"); ifMod != "" {
			if t, err := time.Parse(http.TimeFormat, ifMod); err == nil && !firstSeen.Truncate(time.Second).After(t) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	contentType := "application/json"
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/ld+json") {
		contentType = "application/ld+json"
		w.Header().Add("Link", `<http://iiif.io/api/image/2/context.json>;rel="http://www.w3.org/ns/json-ld#context";type="application/ld+json"`)
	}

	if callback := r.URL.Query().Get("callback"); callback != "" {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "%s(%s);", callback, body)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}

// handleImage serves GET
// /<identifier>/<region>/<size>/<rotation>/<quality>.<format>, per §4.6.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, identifier, regionSeg, sizeSeg, rotationSeg, qualitySeg, formatSeg string) {
	info, _, err := s.loadInfo(r.Context(), identifier)
	if err != nil {
		s.writeError(w, err)
		return
	}

	req, err := s.normalizeRequest(identifier, regionSeg, sizeSeg, rotationSeg, qualitySeg, formatSeg, info)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !qualityAvailable(req.Quality, info.Qualities) {
		s.writeError(w, newQualityError("quality %q is not available for identifier %q", req.Quality, identifier))
		return
	}

	if s.Config.RedirectCanonicalImageRequest && req.LiteralPath() != req.CanonicalPath() {
		target := "/" + req.CanonicalPath()
		if u, err := url.Parse(target); err == nil {
			http.Redirect(w, r, u.String(), http.StatusMovedPermanently)
			return
		}
	}

	path, modTime, err := s.resolveDerivative(r.Context(), req, info)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !modTime.IsZero() {
		w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
		if ifMod := r.Header.Get("If-Modified-Since"); ifMod != "" {
			if t, err := time.Parse(http.TimeFormat, ifMod); err == nil && !modTime.Truncate(time.Second).After(t) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Add("Link", fmt.Sprintf(`<%s>;rel="canonical"`, req.CanonicalPath()))
	w.Header().Set("Content-Type", req.Format.MediaType())

	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, newImageError("opening derivative %q: %v", path, err))
		return
	}
	defer f.Close()

	http.ServeContent(w, r, path, modTime, f)
}

// normalizeRequest parses each URI slice against info, producing a fully
// normalized ImageRequest, per §4.1.
func (s *Server) normalizeRequest(identifier, regionSeg, sizeSeg, rotationSeg, qualitySeg, formatSeg string, info *ImageInfo) (ImageRequest, error) {
	region, err := ParseRegion(regionSeg, info)
	if err != nil {
		return ImageRequest{}, err
	}
	size, err := ParseSize(sizeSeg, region, 'w')
	if err != nil {
		return ImageRequest{}, err
	}
	rotation, err := ParseRotation(rotationSeg)
	if err != nil {
		return ImageRequest{}, err
	}
	quality, err := ParseQuality(qualitySeg)
	if err != nil {
		return ImageRequest{}, err
	}
	format, err := ParseFormat(formatSeg)
	if err != nil {
		return ImageRequest{}, err
	}
	if !formatAllowed(format, s.Config.TargetFormats) {
		return ImageRequest{}, newFormatError("format %q is not among the configured target formats", format)
	}

	return ImageRequest{
		Identifier: identifier,
		Region:     region,
		Size:       size,
		Rotation:   rotation,
		Quality:    quality,
		Format:     format,
	}, nil
}

// resolveDerivative returns the derivative file for req, serving it from
// cache when present and building it through the transform pipeline
// otherwise, per §4.4/§5's at-most-once-per-canonical-key contract.
func (s *Server) resolveDerivative(ctx context.Context, req ImageRequest, info *ImageInfo) (string, time.Time, error) {
	if s.derivative != nil {
		if path, modTime, ok := s.derivative.Lookup(req); ok {
			metricCacheHits.Inc()
			return path, modTime, nil
		}
	}
	metricCacheMisses.Inc()

	sourcePath, _, err := s.resolver.Resolve(req.Identifier)
	if err != nil {
		return "", time.Time{}, err
	}

	transformer, ok := s.transformers[FormatJP2]
	if !ok {
		return "", time.Time{}, newImageError("no transformer configured for source format")
	}

	build := func(targetPath string) error {
		metricDecoderInvocations.Inc()
		return transformer.Transform(ctx, sourcePath, targetPath, req, info)
	}

	if s.derivative == nil {
		tmp, err := os.CreateTemp("", "iiifimage-*."+string(req.Format))
		if err != nil {
			return "", time.Time{}, newImageError("creating scratch derivative file: %v", err)
		}
		tmp.Close()
		if err := build(tmp.Name()); err != nil {
			os.Remove(tmp.Name())
			return "", time.Time{}, err
		}
		return tmp.Name(), time.Now(), nil
	}

	path, err := s.derivative.Insert(req, build)
	if err != nil {
		return "", time.Time{}, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, newImageError("statting derivative %q: %v", path, err)
	}
	return path, stat.ModTime(), nil
}

// loadInfo resolves identifier and returns its ImageInfo, consulting the
// info cache first when configured (§4.5).
func (s *Server) loadInfo(ctx context.Context, identifier string) (*ImageInfo, time.Time, error) {
	baseURI := identifier

	if s.info != nil {
		if body, firstSeen, ok := s.info.Get(identifier); ok {
			var doc infoJSONDoc
			if err := json.Unmarshal(body, &doc); err == nil {
				return infoFromJSONDoc(identifier, baseURI, doc), firstSeen, nil
			}
		}
	}

	sourcePath, format, err := s.resolver.Resolve(identifier)
	if err != nil {
		return nil, time.Time{}, err
	}
	if format != FormatJP2 {
		return nil, time.Time{}, newImageInfoError("identifier %q does not resolve to a supported source format", identifier)
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, time.Time{}, newImageInfoError("opening source %q: %v", sourcePath, err)
	}
	defer f.Close()

	info, err := NewImageInfoFromJP2(identifier, baseURI, f, s.Config.TargetFormats)
	if err != nil {
		return nil, time.Time{}, err
	}

	if s.info != nil {
		if body, err := info.ToJSON(); err == nil {
			if err := s.info.Set(identifier, body); err != nil {
				s.logf("caching info for %q: %v", identifier, err)
			}
		}
	}

	return info, time.Now(), nil
}

// infoFromJSONDoc reconstructs the fields of ImageInfo needed downstream
// (width/height/qualities/formats) from a previously cached info.json body.
func infoFromJSONDoc(identifier, baseURI string, doc infoJSONDoc) *ImageInfo {
	info := &ImageInfo{
		Identifier: identifier,
		BaseURI:    baseURI,
		Width:      doc.Width,
		Height:     doc.Height,
	}
	if len(doc.Tiles) > 0 {
		info.TileWidth = doc.Tiles[0].Width
		info.ScaleFactors = doc.Tiles[0].ScaleFactors
		info.Levels = len(info.ScaleFactors)
	}
	if len(doc.Profile) == 2 {
		if detail, ok := doc.Profile[1].(map[string]any); ok {
			info.Qualities = stringsToQualities(toStringSlice(detail["qualities"]))
			info.Formats = stringsToFormats(toStringSlice(detail["formats"]))
		}
	}
	return info
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringsToQualities(ss []string) []Quality {
	out := make([]Quality, len(ss))
	for i, s := range ss {
		out[i] = Quality(s)
	}
	return out
}

func stringsToFormats(ss []string) []Format {
	out := make([]Format, len(ss))
	for i, s := range ss {
		out[i] = Format(s)
	}
	return out
}

func qualityAvailable(q Quality, available []Quality) bool {
	for _, a := range available {
		if a == q {
			return true
		}
	}
	return false
}

func formatAllowed(f Format, allowed []Format) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == f {
			return true
		}
	}
	return false
}

// writeError renders err as an HTTP response, using its ImagingError status
// when available and 500 otherwise.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if ie, ok := err.(*ImagingError); ok {
		http.Error(w, ie.Error(), ie.Status)
		return
	}
	s.logf("unhandled error: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
