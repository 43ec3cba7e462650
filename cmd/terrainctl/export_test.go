package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
)

func TestWriteTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.tif")
	heights := []float32{
		-10, 0, 10,
		0, 5, 0,
		10, 0, 30,
	}
	if err := writeTIFF(path, heights, 3); err != nil {
		t.Fatalf("writeTIFF: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("decoded %T, want *image.Gray16", img)
	}
	if b := gray.Bounds(); b.Dx() != 3 || b.Dy() != 3 {
		t.Fatalf("bounds = %v", b)
	}
	if lo := gray.Gray16At(0, 0).Y; lo != 0 {
		t.Errorf("lowest sample = %d, want 0", lo)
	}
	if hi := gray.Gray16At(2, 2).Y; hi != 65535 {
		t.Errorf("highest sample = %d, want 65535", hi)
	}
	if mid := gray.Gray16At(1, 0).Y; mid <= gray.Gray16At(0, 0).Y || mid >= gray.Gray16At(2, 0).Y {
		t.Errorf("samples not monotonic along the first row: %d", mid)
	}
}

func TestWriteTIFFFlatChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.tif")
	if err := writeTIFF(path, make([]float32, 4), 2); err != nil {
		t.Fatalf("writeTIFF: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("preview not written: %v", err)
	}
}
