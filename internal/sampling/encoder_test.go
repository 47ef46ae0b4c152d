package sampling

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	return img
}

func TestEncoder_Encode(t *testing.T) {
	encoder := NewEncoder(80)
	img := testImage(64, 48)

	encoded, err := encoder.Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if encoded.Width != 64 || encoded.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", encoded.Width, encoded.Height)
	}
	if !strings.HasPrefix(encoded.DataURL, "data:image/jpeg;base64,") {
		t.Errorf("Unexpected data URL prefix: %.40s", encoded.DataURL)
	}

	// データURLの中身はJPEGバイト列と一致する
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded.DataURL, "data:image/jpeg;base64,"))
	if err != nil {
		t.Fatalf("base64のデコードに失敗しました: %v", err)
	}
	if !bytes.Equal(payload, encoded.Data) {
		t.Error("Data URL payload does not match Data")
	}

	decoded, err := jpeg.Decode(bytes.NewReader(encoded.Data))
	if err != nil {
		t.Fatalf("JPEGのデコードに失敗しました: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("Decoded size mismatch: %v", b)
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	encoder := NewEncoder(80)
	img := testImage(32, 32)

	first, err := encoder.Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	second, err := encoder.Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if first.DataURL != second.DataURL {
		t.Error("Expected identical output for identical input")
	}
}

func TestEncoder_NonZeroOrigin(t *testing.T) {
	// 原点がずれたサブイメージも元の寸法のまま扱う
	sub := testImage(40, 40).SubImage(image.Rect(10, 10, 30, 25))

	encoded, err := NewEncoder(80).Encode(sub)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if encoded.Width != 20 || encoded.Height != 15 {
		t.Errorf("Expected 20x15, got %dx%d", encoded.Width, encoded.Height)
	}
}

func TestEncoder_EmptyFrame(t *testing.T) {
	_, err := NewEncoder(80).Encode(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	if !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Expected ErrEmptyFrame, got %v", err)
	}
}

func TestNewEncoder_ClampsQuality(t *testing.T) {
	testCases := []struct {
		in, want int
	}{
		{0, 1},
		{80, 80},
		{150, 100},
	}
	for _, tc := range testCases {
		if got := NewEncoder(tc.in).Quality(); got != tc.want {
			t.Errorf("NewEncoder(%d).Quality() = %d, want %d", tc.in, got, tc.want)
		}
	}
}
