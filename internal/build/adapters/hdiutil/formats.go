package hdiutil

import (
	"fmt"
	"strconv"
	"strings"
)

// Formats accepted by `hdiutil convert`.
var Formats = []string{
	"UDRW", // read/write
	"UDRO", // read-only
	"UDCO", // ADC compressed
	"UDZO", // zlib compressed
	"UDBZ", // bzip2 compressed
	"UFBI", // entire device
	"UDTO", // DVD/CD master
	"UDxx", // UDIF stub
	"UDSP", // sparse
	"UDSB", // sparse bundle
	"Rdxx", // NDIF read-only
	"DC42", // Disk Copy 4.2
}

// DefaultFormat is the read-only format used when none is given.
const DefaultFormat = "UDRO"

// parseFormat splits an optional zlib level suffix ("UDZO-9") from a format name.
func parseFormat(format string) (string, int, error) {
	base, level := format, 0
	if idx := strings.LastIndex(format, "-"); idx > 0 {
		n, err := strconv.Atoi(format[idx+1:])
		if err != nil || n < 1 || n > 9 {
			return "", 0, fmt.Errorf("%q has an invalid compression level", format)
		}
		base, level = format[:idx], n
		if base != "UDZO" {
			return "", 0, fmt.Errorf("compression level is only supported for UDZO, got %q", format)
		}
	}
	for _, f := range Formats {
		if f == base {
			return base, level, nil
		}
	}
	return "", 0, fmt.Errorf("%q is not one of %s", format, strings.Join(Formats, ", "))
}

// extensionFor is the suffix hdiutil appends to an output name without one.
func extensionFor(format string) string {
	switch format {
	case "UDSP":
		return ".sparseimage"
	case "UDSB":
		return ".sparsebundle"
	case "UDTO":
		return ".cdr"
	default:
		return ".dmg"
	}
}
