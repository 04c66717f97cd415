package iiifimage

import "testing"

func testInfo() *ImageInfo {
	return &ImageInfo{Width: 2000, Height: 1000}
}

func TestParseRegion(t *testing.T) {
	info := testInfo()

	tests := []struct {
		name                       string
		segment                    string
		wantX, wantY, wantW, wantH int
		wantErr                   bool
	}{
		{"full", "full", 0, 0, 2000, 1000, false},
		{"pixel exact", "0,0,1000,500", 0, 0, 1000, 500, false},
		{"pixel offset", "500,250,1000,500", 500, 250, 1000, 500, false},
		{"pixel overflow clamps width", "1500,0,1000,500", 1500, 0, 500, 500, false},
		{"pixel overflow clamps height", "0,750,1000,500", 0, 750, 1000, 250, false},
		{"percent", "pct:25,25,50,50", 500, 250, 1000, 500, false},
		{"zero width rejected", "0,0,0,500", 0, 0, 0, 0, true},
		{"negative x rejected", "-1,0,100,100", 0, 0, 0, 0, true},
		{"x beyond bounds rejected", "2000,0,100,100", 0, 0, 0, 0, true},
		{"percent over 100 rejected", "pct:0,0,150,50", 0, 0, 0, 0, true},
		{"malformed syntax rejected", "a,b,c,d", 0, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRegion(tt.segment, info)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRegion(%q) = %+v, want error", tt.segment, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRegion(%q) returned unexpected error: %v", tt.segment, err)
			}
			if got.PixelX != tt.wantX || got.PixelY != tt.wantY || got.PixelW != tt.wantW || got.PixelH != tt.wantH {
				t.Errorf("ParseRegion(%q) = {%d,%d,%d,%d}, want {%d,%d,%d,%d}",
					tt.segment, got.PixelX, got.PixelY, got.PixelW, got.PixelH, tt.wantX, tt.wantY, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	info := testInfo()
	region, err := ParseRegion("full", info)
	if err != nil {
		t.Fatalf("ParseRegion(full) failed: %v", err)
	}

	tests := []struct {
		name     string
		segment  string
		wantW    int
		wantH    int
		wantForce bool
		wantErr  bool
	}{
		{"full", "full", 2000, 1000, false, false},
		{"percent", "pct:50", 1000, 500, false, false},
		{"width only", "1000,", 1000, 500, false, false},
		{"height only", ",500", 1000, 500, false, false},
		{"exact forces aspect", "500,500", 500, 500, true, false},
		{"best fit", "!500,500", 500, 250, false, false},
		{"zero width rejected", "0,500", 0, 0, false, true},
		{"malformed syntax rejected", "abc", 0, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.segment, region, 'w')
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSize(%q) = %+v, want error", tt.segment, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) returned unexpected error: %v", tt.segment, err)
			}
			if got.W != tt.wantW || got.H != tt.wantH || got.ForceAspect != tt.wantForce {
				t.Errorf("ParseSize(%q) = {%d,%d,force=%v}, want {%d,%d,force=%v}",
					tt.segment, got.W, got.H, got.ForceAspect, tt.wantW, tt.wantH, tt.wantForce)
			}
		})
	}
}

func TestParseRotation(t *testing.T) {
	tests := []struct {
		segment       string
		wantSnapped   int
		wantCanonical string
		wantErr       bool
	}{
		{"0", 0, "0", false},
		{"90", 90, "90", false},
		{"315", 360, "0", false},
		{"360", 360, "0", false},
		{"-1", 0, "", true},
		{"361", 0, "", true},
		{"abc", 0, "", true},
	}

	for _, tt := range tests {
		got, err := ParseRotation(tt.segment)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRotation(%q) = %+v, want error", tt.segment, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRotation(%q) returned unexpected error: %v", tt.segment, err)
		}
		if got.Snapped != tt.wantSnapped {
			t.Errorf("ParseRotation(%q).Snapped = %d, want %d", tt.segment, got.Snapped, tt.wantSnapped)
		}
		if got.Canonical() != tt.wantCanonical {
			t.Errorf("ParseRotation(%q).Canonical() = %q, want %q", tt.segment, got.Canonical(), tt.wantCanonical)
		}
	}
}

func TestParseQuality(t *testing.T) {
	for _, q := range []string{"default", "color", "gray", "bitonal"} {
		if _, err := ParseQuality(q); err != nil {
			t.Errorf("ParseQuality(%q) returned unexpected error: %v", q, err)
		}
	}
	if _, err := ParseQuality("sepia"); err == nil {
		t.Error("ParseQuality(\"sepia\") = nil error, want error")
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []string{"jpg", "png", "gif", "tif", "pdf", "jp2"} {
		got, err := ParseFormat(f)
		if err != nil {
			t.Errorf("ParseFormat(%q) returned unexpected error: %v", f, err)
		}
		if got.MediaType() == "" {
			t.Errorf("ParseFormat(%q).MediaType() is empty", f)
		}
	}
	if _, err := ParseFormat("bmp"); err == nil {
		t.Error("ParseFormat(\"bmp\") = nil error, want error")
	}
}

func TestImageRequestCanonicalization(t *testing.T) {
	info := testInfo()
	region, err := ParseRegion("pct:0,0,50,50", info)
	if err != nil {
		t.Fatalf("ParseRegion failed: %v", err)
	}
	size, err := ParseSize("full", region, 'w')
	if err != nil {
		t.Fatalf("ParseSize failed: %v", err)
	}
	rotation, err := ParseRotation("360")
	if err != nil {
		t.Fatalf("ParseRotation failed: %v", err)
	}

	req := ImageRequest{
		Identifier: "abc123",
		Region:     region,
		Size:       size,
		Rotation:   rotation,
		Quality:    QualityDefault,
		Format:     FormatJPG,
	}

	if req.IsCanonical() {
		t.Error("request with pct region and 360 rotation reported as canonical")
	}
	want := "abc123/0,0,1000,500/full/0/default.jpg"
	if got := req.CanonicalPath(); got != want {
		t.Errorf("CanonicalPath() = %q, want %q", got, want)
	}
}
