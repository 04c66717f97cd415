package iiifimage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// writeFakeSource writes a minimal JP2-header-only fixture (sufficient for
// NewImageInfoFromJP2, which never decodes pixel data) under root/name.
func writeFakeSource(t *testing.T, root, name string, width, height, channels, levels int) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, buildJP2Header(width, height, channels, levels), 0o644); err != nil {
		t.Fatalf("writing fixture source: %v", err)
	}
}

// writeFakeDecoder writes an executable shell script that ignores its
// arguments and always emits a fixed PNG raster to stdout, standing in for
// the external decoder binary this core treats as an out-of-scope
// collaborator.
func writeFakeDecoder(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	fixturePath := filepath.Join(dir, "fixture.png")
	f, err := os.Create(fixturePath)
	if err != nil {
		t.Fatalf("creating fixture PNG: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encoding fixture PNG: %v", err)
	}
	f.Close()

	scriptPath := filepath.Join(dir, "fake-decoder.sh")
	script := fmt.Sprintf("#!/bin/sh\ncat %q\n", fixturePath)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake decoder: %v", err)
	}
	return scriptPath
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.EnableCaching = false
	cfg.ResolverConfig = map[string]string{"src_img_root": root}
	cfg.TransformerConfig = map[string]string{"decoder": writeFakeDecoder(t, root)}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, root
}

func TestServerInfoJSON(t *testing.T) {
	srv, root := newTestServer(t)
	writeFakeSource(t, root, "ex1.jp2", 2000, 1000, 3, 4)

	req := httptest.NewRequest(http.MethodGet, "/ex1/info.json", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET /ex1/info.json = %d, want 200; body: %s", rr.Code, rr.Body.String())
	}

	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshaling response body: %v", err)
	}
	if doc["width"].(float64) != 2000 {
		t.Errorf("width = %v, want 2000", doc["width"])
	}
}

func TestServerInfoJSONUnknownIdentifier(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist/info.json", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("GET /does-not-exist/info.json = %d, want 404", rr.Code)
	}
}

func TestServerRedirectEmptyTailToInfo(t *testing.T) {
	srv, root := newTestServer(t)
	writeFakeSource(t, root, "ex1.jp2", 2000, 1000, 3, 4)

	req := httptest.NewRequest(http.MethodGet, "/ex1", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("GET /ex1 = %d, want 303", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/ex1/info.json" {
		t.Errorf("Location = %q, want %q", loc, "/ex1/info.json")
	}
}

func TestServerImageRequestQualityUnavailable(t *testing.T) {
	srv, root := newTestServer(t)
	// single-channel source: DeriveQualities omits "color".
	writeFakeSource(t, root, "gray1.jp2", 100, 100, 1, 2)

	req := httptest.NewRequest(http.MethodGet, "/gray1/full/full/0/color.jpg", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("requesting unavailable quality = %d, want 400; body: %s", rr.Code, rr.Body.String())
	}
}

func TestServerImageRequestRoundTrip(t *testing.T) {
	srv, root := newTestServer(t)
	writeFakeSource(t, root, "ex1.jp2", 2000, 1000, 3, 4)

	req := httptest.NewRequest(http.MethodGet, "/ex1/full/full/0/default.jpg", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET image = %d, want 200; body: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	if _, err := decodeJPEGBounds(rr.Body.Bytes()); err != nil {
		t.Errorf("response body is not a decodable JPEG: %v", err)
	}
}

func decodeJPEGBounds(b []byte) (image.Rectangle, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return image.Rectangle{}, err
	}
	return img.Bounds(), nil
}

func TestServerImageRequestCanonicalRedirect(t *testing.T) {
	srv, root := newTestServer(t)
	writeFakeSource(t, root, "ex1.jp2", 2000, 1000, 3, 4)

	req := httptest.NewRequest(http.MethodGet, "/ex1/pct:0,0,100,100/full/0/default.jpg", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("non-canonical request = %d, want 301; body: %s", rr.Code, rr.Body.String())
	}
}
