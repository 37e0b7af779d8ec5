package upstream

import "testing"

func TestIsSeedanceModel(t *testing.T) {
	cases := map[string]bool{
		"seedance-2.0":               true,
		"seedance-2.0-fast":          true,
		"jimeng-video-seedance-2.0":  true,
		"jimeng-video-3.0":           false,
		"jimeng-video-2.0-pro":       false,
		"":                           false,
	}
	for model, want := range cases {
		if got := IsSeedanceModel(model); got != want {
			t.Errorf("IsSeedanceModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestResolveVideoResolutionKnownPair(t *testing.T) {
	r, err := ResolveVideoResolution("720p", "16:9")
	if err != nil {
		t.Fatalf("ResolveVideoResolution: %v", err)
	}
	if r.Width != 1280 || r.Height != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", r.Width, r.Height)
	}
}

func TestResolveVideoResolutionUnknownPair(t *testing.T) {
	_, err := ResolveVideoResolution("4k", "16:9")
	if err == nil {
		t.Fatal("expected an error for an unsupported resolution/ratio pair")
	}
	if _, ok := err.(*UnsupportedResolutionError); !ok {
		t.Fatalf("expected *UnsupportedResolutionError, got %T", err)
	}
}

func TestDetectMaterialTypeFromMIME(t *testing.T) {
	cases := map[string]MaterialType{
		"image/png":  MaterialImage,
		"video/mp4":  MaterialVideo,
		"audio/mpeg": MaterialAudio,
		"":           MaterialImage,
		"text/plain": MaterialImage,
	}
	for mime, want := range cases {
		if got := DetectMaterialTypeFromMIME(mime); got != want {
			t.Errorf("DetectMaterialTypeFromMIME(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestModelNamesCoversKnownModels(t *testing.T) {
	names := ModelNames()
	found := make(map[string]bool, len(names))
	for _, n := range names {
		found[n] = true
	}
	for _, want := range []string{"jimeng-video-3.5-pro", "seedance-2.0"} {
		if !found[want] {
			t.Errorf("expected ModelNames() to include %q", want)
		}
	}
}

func TestAspectRatioStr(t *testing.T) {
	if got := AspectRatioStr(1280, 720); got != "16:9" {
		t.Errorf("AspectRatioStr(1280,720) = %q, want 16:9", got)
	}
	if got := AspectRatioStr(1080, 1080); got != "1:1" {
		t.Errorf("AspectRatioStr(1080,1080) = %q, want 1:1", got)
	}
}
