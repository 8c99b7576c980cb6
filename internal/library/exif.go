package library

import (
	"io"
	"math"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// ExifData holds the EXIF fields the slideshow cares about.
type ExifData struct {
	Width       int
	Height      int
	DateTaken   *time.Time
	Latitude    *float64
	Longitude   *float64
	Orientation int
}

// ExtractExif reads EXIF data from an image reader.
// Returns default ExifData (not an error) if no EXIF is present.
func ExtractExif(r io.Reader) (*ExifData, error) {
	x, err := exif.Decode(r)
	if err != nil {
		// No EXIF data is not an error
		return &ExifData{Orientation: 1}, nil
	}

	d := &ExifData{Orientation: 1}

	if dt, err := x.DateTime(); err == nil {
		d.DateTaken = &dt
	}

	if lat, lon, err := x.LatLong(); err == nil {
		if !math.IsNaN(lat) && !math.IsNaN(lon) {
			d.Latitude = &lat
			d.Longitude = &lon
		}
	}

	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			d.Orientation = v
		}
	}

	if pw, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := pw.Int(0); err == nil {
			d.Width = v
		}
	}
	if ph, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := ph.Int(0); err == nil {
			d.Height = v
		}
	}

	return d, nil
}
