package units

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= 1e-9*scale
}

func TestLengthKnownConversions(t *testing.T) {
	cases := []struct {
		value    float64
		from, to string
		want     float64
	}{
		{1.0, "in", "mm", 25.4},
		{1000.0, "mm", "m", 1.0},
		{1.0, "ft", "in", 12.0},
		{2.5, "cm", "mm", 25.0},
		{1.0, "yd", "ft", 3.0},
	}
	for _, c := range cases {
		got, err := Length(c.value, c.from, c.to)
		if err != nil {
			t.Fatalf("Length(%v, %s, %s): %v", c.value, c.from, c.to, err)
		}
		if !almostEqual(got, c.want) {
			t.Fatalf("Length(%v, %s, %s): want=%v got=%v", c.value, c.from, c.to, c.want, got)
		}
	}
}

func TestIdentityConversionIsExact(t *testing.T) {
	values := []float64{0, 1, 25.4, 1e-9, 123456.789, math.Pi}
	for _, u := range Supported() {
		for _, v := range values {
			got, err := Length(v, u, u)
			if err != nil {
				t.Fatalf("Length identity %s: %v", u, err)
			}
			if got != v {
				t.Fatalf("identity must be exact for %s: want=%v got=%v", u, v, got)
			}
		}
	}
	got, err := Mass(0.7, "lb", "lb")
	if err != nil {
		t.Fatalf("Mass identity: %v", err)
	}
	if got != 0.7 {
		t.Fatalf("mass identity must be exact: got=%v", got)
	}
}

func TestRoundTripRecoversValue(t *testing.T) {
	pairs := [][2]string{{"in", "mm"}, {"ft", "m"}, {"cm", "in"}, {"mi", "km"}}
	for _, p := range pairs {
		forward, err := Length(7.25, p[0], p[1])
		if err != nil {
			t.Fatalf("forward %v: %v", p, err)
		}
		back, err := Length(forward, p[1], p[0])
		if err != nil {
			t.Fatalf("back %v: %v", p, err)
		}
		if !almostEqual(back, 7.25) {
			t.Fatalf("round trip %v: want=7.25 got=%v", p, back)
		}
	}
}

func TestAreaAndVolumeUseSquaredAndCubedFactors(t *testing.T) {
	area, err := Area(1.0, "in", "mm")
	if err != nil {
		t.Fatalf("Area: %v", err)
	}
	if !almostEqual(area, 645.16) {
		t.Fatalf("1 in² in mm²: want=645.16 got=%v", area)
	}

	volume, err := Volume(1.0, "in", "mm")
	if err != nil {
		t.Fatalf("Volume: %v", err)
	}
	if !almostEqual(volume, 16387.064) {
		t.Fatalf("1 in³ in mm³: want=16387.064 got=%v", volume)
	}

	linear, _ := ScaleFactor("in", "mm")
	if !almostEqual(area, linear*linear) || !almostEqual(volume, linear*linear*linear) {
		t.Fatalf("area/volume factors must be powers of the linear factor")
	}
}

func TestMassConversions(t *testing.T) {
	kg, err := Mass(1.0, "lb", "kg")
	if err != nil {
		t.Fatalf("Mass: %v", err)
	}
	if !almostEqual(kg, 0.453592) {
		t.Fatalf("1 lb in kg: want=0.453592 got=%v", kg)
	}

	// Length units must not leak into the mass table.
	if _, err := Mass(1.0, "mm", "kg"); err == nil {
		t.Fatal("mm accepted as a mass unit")
	}
	if _, err := Length(1.0, "kg", "mm"); err == nil {
		t.Fatal("kg accepted as a length unit")
	}
}

func TestUnsupportedUnitsError(t *testing.T) {
	if _, err := Length(1.0, "furlong", "mm"); err == nil {
		t.Fatal("expected error for unsupported source unit")
	}
	if _, err := Length(1.0, "mm", "parsec"); err == nil {
		t.Fatal("expected error for unsupported target unit")
	}
	if Valid("furlong") {
		t.Fatal("furlong reported as valid")
	}
	if !Valid("mm") {
		t.Fatal("mm reported as invalid")
	}
}

func TestToBase(t *testing.T) {
	got, err := ToBase(2.0, "in", "length")
	if err != nil {
		t.Fatalf("ToBase length: %v", err)
	}
	if !almostEqual(got, 50.8) {
		t.Fatalf("2 in to mm: want=50.8 got=%v", got)
	}
	got, err = ToBase(500.0, "g", "mass")
	if err != nil {
		t.Fatalf("ToBase mass: %v", err)
	}
	if !almostEqual(got, 0.5) {
		t.Fatalf("500 g to kg: want=0.5 got=%v", got)
	}
	if _, err := ToBase(1.0, "mm", "temperature"); err == nil {
		t.Fatal("expected error for unknown measurement type")
	}
}

func TestFormatDimension(t *testing.T) {
	if got := FormatDimension(25.4, "mm", 3); got != "25.400 mm" {
		t.Fatalf("FormatDimension: want=%q got=%q", "25.400 mm", got)
	}
	if got := FormatDimension(1.0, "in", 1); got != "1.0 in" {
		t.Fatalf("FormatDimension: want=%q got=%q", "1.0 in", got)
	}
}

func TestDetectFromFilename(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"part_inches.step", "in"},
		{"bracket_imperial.stp", "in"},
		{"housing_metric.step", "mm"},
		{"flange_centimeter.iges", "cm"},
		{"rail_meter.igs", "m"},
		{"assembly.step", "mm"},
		{"scan.obj", "m"},
		{"scene.fbx", "cm"},
		{"mesh.stl", "mm"},
		{"UPPER_INCH.STEP", "in"},
		{"unknown.bin", "mm"},
	}
	for _, c := range cases {
		if got := DetectFromFilename(c.filename); got != c.want {
			t.Fatalf("DetectFromFilename(%q): want=%s got=%s", c.filename, c.want, got)
		}
	}
}

func TestFormatDefault(t *testing.T) {
	if got := FormatDefault("STEP"); got != "mm" {
		t.Fatalf("FormatDefault(STEP): want=mm got=%s", got)
	}
	if got := FormatDefault("obj"); got != "m" {
		t.Fatalf("FormatDefault(obj): want=m got=%s", got)
	}
	if got := FormatDefault("parasolid"); got != "mm" {
		t.Fatalf("FormatDefault fallback: want=mm got=%s", got)
	}
}
