package jsoncfg

import "testing"

func TestVideoRequestNormalizeDefaults(t *testing.T) {
	r := &VideoRequestJSON{Topic: "  the water cycle  "}
	r.Normalize()

	if r.Version != DefaultRequestVersion {
		t.Fatalf("Version = %q, want %q", r.Version, DefaultRequestVersion)
	}
	if r.Style != DefaultStyle {
		t.Fatalf("Style = %q, want %q", r.Style, DefaultStyle)
	}
	if r.AspectRatio != DefaultAspectRatio {
		t.Fatalf("AspectRatio = %q, want %q", r.AspectRatio, DefaultAspectRatio)
	}
	if r.TargetDuration != DefaultTargetDuration {
		t.Fatalf("TargetDuration = %d, want %d", r.TargetDuration, DefaultTargetDuration)
	}
	if r.Topic != "the water cycle" {
		t.Fatalf("Topic = %q, want trimmed", r.Topic)
	}
}

func TestVideoRequestNormalizeClampsDuration(t *testing.T) {
	r := &VideoRequestJSON{Topic: "x", TargetDuration: 600, AspectRatio: "9:16"}
	r.Normalize()

	if r.TargetDuration != MaxTargetDuration {
		t.Fatalf("TargetDuration clamp = %d, want %d", r.TargetDuration, MaxTargetDuration)
	}
	if r.AspectRatio != "9:16" {
		t.Fatalf("AspectRatio should keep explicit value, got %q", r.AspectRatio)
	}
}

func TestVideoRequestValidate(t *testing.T) {
	r := &VideoRequestJSON{}
	r.Normalize()
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for missing topic")
	}

	r = &VideoRequestJSON{Topic: "volcanoes", Style: "noir"}
	r.Normalize()
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for unsupported style")
	}

	r = &VideoRequestJSON{Topic: "volcanoes"}
	r.Normalize()
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestVideoRequestSceneCount(t *testing.T) {
	cases := []struct {
		duration int
		want     int
	}{
		{5, 1},
		{16, 2},
		{30, 3},
		{48, 6},
		{400, 6},
	}
	for _, tc := range cases {
		r := VideoRequestJSON{Topic: "x", TargetDuration: tc.duration}
		r.Normalize()
		if got := r.SceneCount(); got != tc.want {
			t.Fatalf("SceneCount(%d) = %d, want %d", tc.duration, got, tc.want)
		}
	}
}
