package geometry

import (
	"os"
	"regexp"
	"strings"
)

// STEP headers record units in SI_UNIT entities, e.g.
//
//	#12 = ( LENGTH_UNIT() NAMED_UNIT(*) SI_UNIT(.MILLI.,.METRE.) );
//
// headerScanBytes bounds how much of the file we inspect; unit entities
// sit near the top of any sane export.
const headerScanBytes = 50_000

// unitPatterns are checked in order. Compound patterns (prefix+suffix)
// come before the bare METRE so MILLIMETRE never reads as meters.
var unitPatterns = []struct {
	prefix string
	suffix string
	unit   string
}{
	{"MILLI", "METRE", "mm"},
	{"CENTI", "METRE", "cm"},
	{"MICRO", "METRE", "um"},
	{"KILO", "METRE", "km"},
	{"INCH", "", "in"},
	{"FOOT", "", "ft"},
	{"METRE", "", "m"},
}

// DetectUnit reads the head of a STEP file and infers its length unit,
// defaulting to mm when nothing matches or the file cannot be read.
func DetectUnit(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "mm"
	}
	defer f.Close()

	buf := make([]byte, headerScanBytes)
	n, _ := f.Read(buf)
	content := strings.ToUpper(string(buf[:n]))

	for _, p := range unitPatterns {
		if p.suffix != "" {
			prefixPos := strings.Index(content, p.prefix)
			if prefixPos < 0 {
				continue
			}
			suffixPos := strings.Index(content[prefixPos:], p.suffix)
			// The two tokens must sit inside the same unit entity.
			if suffixPos >= 0 && suffixPos < 100 {
				return p.unit
			}
			continue
		}
		if strings.Contains(content, p.prefix) {
			return p.unit
		}
	}
	return "mm"
}

var productPattern = regexp.MustCompile(`#\d+\s*=\s*PRODUCT\s*\('([^']+)'`)

// ProductNames parses PRODUCT entities out of a STEP file and maps the
// component index to its declared name. Placeholder names are skipped so
// callers fall back to generated ones.
func ProductNames(path string) map[int]string {
	names := map[int]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return names
	}
	matches := productPattern.FindAllStringSubmatch(string(data), -1)
	for idx, m := range matches {
		name := m[1]
		if name == "" || name == "UNNAMED" || name == "UNKNOWN" {
			continue
		}
		names[idx] = name
	}
	return names
}
