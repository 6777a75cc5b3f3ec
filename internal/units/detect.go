package units

import "strings"

// formatDefaults holds the conventional native unit per CAD format.
var formatDefaults = map[string]string{
	"step": "mm",
	"stp":  "mm",
	"iges": "mm",
	"igs":  "mm",
	"stl":  "mm",
	"obj":  "m",
	"fbx":  "cm",
}

// filenameHints are checked in order; the first substring hit wins.
var filenameHints = []struct {
	hint string
	unit string
}{
	{"inches", "in"},
	{"inch", "in"},
	{"imperial", "in"},
	{"metric", "mm"},
	{"millimeter", "mm"},
	{"centimeter", "cm"},
	{"meter", "m"},
}

// DetectFromFilename guesses the native unit of a CAD file from its
// name. Explicit hints in the name beat the format default, and the
// format default beats the millimeter fallback.
func DetectFromFilename(filename string) string {
	lower := strings.ToLower(filename)
	for _, h := range filenameHints {
		if strings.Contains(lower, h.hint) {
			return h.unit
		}
	}
	for ext, unit := range formatDefaults {
		if strings.HasSuffix(lower, "."+ext) {
			return unit
		}
	}
	return BaseLength
}

// FormatDefault returns the conventional unit for a format name such as
// "STEP" or "obj", or mm when the format is unknown.
func FormatDefault(format string) string {
	if unit, ok := formatDefaults[strings.ToLower(format)]; ok {
		return unit
	}
	return BaseLength
}
