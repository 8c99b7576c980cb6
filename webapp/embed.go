// Package webapp provides the embedded slideshow frontend.
package webapp

import "embed"

//go:embed index.html
var Assets embed.FS
