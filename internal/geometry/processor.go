package geometry

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/enginelhq/enginel-backend/internal/logger"
)

// geometryExts are the boundary-representation formats the pipeline can
// extract real metadata from.
var geometryExts = map[string]bool{
	".step": true,
	".stp":  true,
	".iges": true,
	".igs":  true,
}

// IsGeometryFormat reports whether the filename carries a
// boundary-representation extension, case-insensitive.
func IsGeometryFormat(filename string) bool {
	return geometryExts[strings.ToLower(filepath.Ext(filename))]
}

// FileFormat returns the uppercased extension without the dot, e.g.
// "STEP" for "bracket.step".
func FileFormat(filename string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(filename), "."))
}

type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

type ValidationReport struct {
	IsValid    bool    `json:"is_valid"`
	IsManifold bool    `json:"is_manifold"`
	IsClosed   bool    `json:"is_closed"`
	Issues     []Issue `json:"issues"`
	Summary    string  `json:"summary"`
}

// Component is one entry of an extracted assembly structure.
type Component struct {
	Index        int         `json:"index"`
	Name         string      `json:"name"`
	PartNumber   string      `json:"part_number"`
	Quantity     int         `json:"quantity"`
	NodeType     string      `json:"node_type"`
	Volume       float64     `json:"volume"`
	SurfaceArea  float64     `json:"surface_area"`
	Mass         float64     `json:"mass"`
	CenterOfMass Vec3        `json:"center_of_mass"`
	BoundingBox  BoundingBox `json:"bounding_box"`
	Topology     Topology    `json:"topology"`
}

// aluminumDensityKgPerMM3 is the default density for mass estimates
// (2.7 g/cm³) until material assignment exists.
const aluminumDensityKgPerMM3 = 0.0000027

// highEdgeCountThreshold flags models heavy enough to slow the viewer.
const highEdgeCountThreshold = 10_000

// Processor extracts metadata from one loaded CAD file.
type Processor struct {
	path  string
	shape Shape
	log   *logger.Logger
}

// NewProcessor loads the file through the kernel. Unsupported
// extensions fail before touching the kernel.
func NewProcessor(kernel Kernel, path string, baseLog *logger.Logger) (*Processor, error) {
	if !IsGeometryFormat(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	shape, err := kernel.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return &Processor{
		path:  path,
		shape: shape,
		log:   baseLog.With("component", "GeometryProcessor"),
	}, nil
}

// MassProperties returns the shape's mass properties in the file's
// native unit as detected from the STEP header.
func (p *Processor) MassProperties() (MassProperties, error) {
	props, err := p.shape.MassProperties()
	if err != nil {
		return MassProperties{}, fmt.Errorf("mass properties: %w", err)
	}
	props.BoundingBox = props.BoundingBox.WithDimensions()
	if props.Units == "" {
		props.Units = DetectUnit(p.path)
	}
	return props, nil
}

func (p *Processor) TopologyInfo() (Topology, error) {
	topo, err := p.shape.Topology()
	if err != nil {
		return Topology{}, fmt.Errorf("topology: %w", err)
	}
	return topo, nil
}

// RunDesignRuleChecks validates the geometry. It never returns an
// error; a failed sub-check becomes a CHECK_FAILED issue and marks the
// report invalid.
func (p *Processor) RunDesignRuleChecks() ValidationReport {
	issues := []Issue{}

	valid, err := p.shape.Valid()
	if err != nil {
		return checkFailedReport(err)
	}

	manifold, err := p.shape.Manifold()
	if err != nil || !manifold {
		manifold = false
		issues = append(issues, Issue{
			Severity: "error",
			Code:     "NON_MANIFOLD",
			Message:  "Geometry contains non-manifold edges or vertices",
		})
	}

	closed, err := p.shape.Closed()
	if err != nil || !closed {
		closed = false
		issues = append(issues, Issue{
			Severity: "warning",
			Code:     "NOT_WATERTIGHT",
			Message:  "Geometry may not be watertight (not closed)",
		})
	}

	if !valid {
		issues = append(issues, Issue{
			Severity: "error",
			Code:     "INVALID_BREP",
			Message:  "BRep structure is invalid",
		})
	}

	topo, err := p.shape.Topology()
	if err != nil {
		return checkFailedReport(err)
	}
	if topo.Edges > highEdgeCountThreshold {
		issues = append(issues, Issue{
			Severity: "warning",
			Code:     "HIGH_EDGE_COUNT",
			Message:  fmt.Sprintf("High edge count (%d) may impact performance", topo.Edges),
		})
	}

	summary := "No issues found"
	if len(issues) > 0 {
		summary = fmt.Sprintf("Found %d issue(s)", len(issues))
	}
	return ValidationReport{
		IsValid:    valid && manifold,
		IsManifold: manifold,
		IsClosed:   closed,
		Issues:     issues,
		Summary:    summary,
	}
}

func checkFailedReport(err error) ValidationReport {
	return ValidationReport{
		IsValid: false,
		Issues: []Issue{{
			Severity: "error",
			Code:     "CHECK_FAILED",
			Message:  fmt.Sprintf("Design rule check failed: %v", err),
		}},
		Summary: "Found 1 issue(s)",
	}
}

// ExtractBOM returns the assembly structure of the file. A shape with a
// single solid is a plain part, not a one-component assembly, so it
// yields an empty list. A solid whose properties cannot be read is
// skipped, not fatal.
func (p *Processor) ExtractBOM() []Component {
	solids, err := p.shape.Solids()
	if err != nil {
		p.log.Error("Failed to extract BOM structure", "file", filepath.Base(p.path), "error", err)
		return []Component{}
	}
	if len(solids) <= 1 {
		p.log.Info("No assembly structure found, treating as single part", "file", filepath.Base(p.path))
		return []Component{}
	}

	names := ProductNames(p.path)
	components := make([]Component, 0, len(solids))
	for index, solid := range solids {
		props, err := solid.MassProperties()
		if err != nil {
			p.log.Warn("Failed to process component", "index", index, "error", err)
			continue
		}
		topo, err := solid.Topology()
		if err != nil {
			topo = Topology{}
		}
		name, ok := names[index]
		if !ok {
			name = fmt.Sprintf("Component_%d", index+1)
		}
		components = append(components, Component{
			Index:        index,
			Name:         name,
			PartNumber:   fmt.Sprintf("PN-%04d", index+1),
			Quantity:     1,
			NodeType:     "PART",
			Volume:       props.Volume,
			SurfaceArea:  props.SurfaceArea,
			Mass:         props.Volume * aluminumDensityKgPerMM3,
			CenterOfMass: props.CenterOfMass,
			BoundingBox:  props.BoundingBox.WithDimensions(),
			Topology:     topo,
		})
	}
	return components
}

// ExportSTL tessellates the shape and writes a binary STL to outPath
// for web preview.
func (p *Processor) ExportSTL(outPath string, linearDeflection, angularDeflection float64) error {
	mesh, err := p.shape.Mesh(linearDeflection, angularDeflection)
	if err != nil {
		return fmt.Errorf("mesh generation: %w", err)
	}
	if err := WriteSTL(outPath, mesh); err != nil {
		return fmt.Errorf("write stl: %w", err)
	}
	p.log.Info("Exported STL preview", "path", outPath, "triangles", len(mesh.Triangles))
	return nil
}

// ProcessResult bundles everything one pass over a file can extract.
type ProcessResult struct {
	FileName       string           `json:"file_name"`
	FileFormat     string           `json:"file_format"`
	MassProperties MassProperties   `json:"mass_properties"`
	Topology       Topology         `json:"topology"`
	Validation     ValidationReport `json:"validation"`
	BOMComponents  []Component      `json:"bom_components"`
}

// ProcessAll runs every extraction over the loaded file.
func (p *Processor) ProcessAll() (*ProcessResult, error) {
	props, err := p.MassProperties()
	if err != nil {
		return nil, err
	}
	topo, err := p.TopologyInfo()
	if err != nil {
		return nil, err
	}
	return &ProcessResult{
		FileName:       filepath.Base(p.path),
		FileFormat:     FileFormat(p.path),
		MassProperties: props,
		Topology:       topo,
		Validation:     p.RunDesignRuleChecks(),
		BOMComponents:  p.ExtractBOM(),
	}, nil
}
