package system

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()

	files := []string{"a.yaml", "b.YML", "c.yaml", "ignored.txt"}
	now := time.Now()
	for i, name := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		mod := now.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := FindLatest(dir, ".yaml", ".yml")
	if err != nil {
		t.Fatalf("FindLatest failed: %v", err)
	}
	if filepath.Base(latest) != "c.yaml" {
		t.Errorf("latest = %s, want c.yaml", latest)
	}

	if _, err := FindLatest(dir, ".pdf"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
`
	got := parseEncoders(out)
	for _, name := range []string{"libx264", "libvpx-vp9", "h264_nvenc"} {
		if !got[name] {
			t.Errorf("missing %s in %v", name, got)
		}
	}
	if got["="] || got["Video"] {
		t.Errorf("legend parsed as encoder: %v", got)
	}

	best, ok := BestEncoder(got, H264Preference...)
	if !ok || best != "h264_nvenc" {
		t.Errorf("BestEncoder = %q, %v", best, ok)
	}
	if _, ok := BestEncoder(got, "h264_videotoolbox"); ok {
		t.Error("unexpected match")
	}
}

func TestFramePool(t *testing.T) {
	pool := NewFramePool()
	size := image.Pt(64, 36)

	img := pool.Get(size)
	if img.Bounds() != image.Rect(0, 0, 64, 36) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	pool.Put(img)
	pool.Put(image.NewRGBA(image.Rect(0, 0, 7, 7))) // unknown size is dropped
	pool.Put(nil)

	if got := pool.Get(size); got.Bounds().Size() != size {
		t.Errorf("size = %v", got.Bounds().Size())
	}
}

func TestWorkers(t *testing.T) {
	if Workers() < 1 {
		t.Errorf("Workers() = %d", Workers())
	}
	if h := Host(); h.LogicalCPUs < 0 {
		t.Errorf("host = %+v", h)
	}
}
