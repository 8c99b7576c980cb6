package library

import (
	"bytes"
	"strings"
	"testing"
)

func TestExtractExifWithoutData(t *testing.T) {
	// A JPEG without EXIF yields defaults, not an error.
	d, err := ExtractExif(bytes.NewReader(encodeJPEG(t, 4, 4)))
	if err != nil {
		t.Fatalf("ExtractExif() error: %v", err)
	}
	if d.Orientation != 1 {
		t.Errorf("Orientation = %d, want 1", d.Orientation)
	}
	if d.DateTaken != nil {
		t.Errorf("DateTaken = %v, want nil", d.DateTaken)
	}
}

func TestExtractExifGarbage(t *testing.T) {
	d, err := ExtractExif(strings.NewReader("not an image at all"))
	if err != nil {
		t.Fatalf("ExtractExif() error: %v", err)
	}
	if d.Orientation != 1 {
		t.Errorf("Orientation = %d, want 1", d.Orientation)
	}
}
