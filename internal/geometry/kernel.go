// Package geometry extracts metadata from CAD files: mass properties,
// bounding boxes, topology counts, design rule checks and assembly
// structure. The heavy lifting is behind the Kernel interface so the
// rest of the system never touches a modeling kernel directly.
package geometry

import "errors"

var (
	// ErrCorruptedFile means the file could not be parsed as its format.
	ErrCorruptedFile = errors.New("corrupted geometry data")
	// ErrUnsupportedFormat means the extension is not a geometry format.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type BoundingBox struct {
	XMin       float64    `json:"xmin"`
	XMax       float64    `json:"xmax"`
	YMin       float64    `json:"ymin"`
	YMax       float64    `json:"ymax"`
	ZMin       float64    `json:"zmin"`
	ZMax       float64    `json:"zmax"`
	Dimensions Dimensions `json:"dimensions"`
}

// WithDimensions fills in the derived extents from the corner values.
func (b BoundingBox) WithDimensions() BoundingBox {
	b.Dimensions = Dimensions{
		Length: b.XMax - b.XMin,
		Width:  b.YMax - b.YMin,
		Height: b.ZMax - b.ZMin,
	}
	return b
}

// MassProperties are expressed in the file's native linear unit; the
// Units field records which one that is.
type MassProperties struct {
	Volume       float64     `json:"volume"`
	SurfaceArea  float64     `json:"surface_area"`
	CenterOfMass Vec3        `json:"center_of_mass"`
	BoundingBox  BoundingBox `json:"bounding_box"`
	Units        string      `json:"units"`
}

type Topology struct {
	Solids   int `json:"solids"`
	Shells   int `json:"shells"`
	Faces    int `json:"faces"`
	Edges    int `json:"edges"`
	Vertices int `json:"vertices"`
}

// Triangle is one facet of a tessellated shape.
type Triangle struct {
	Normal Vec3
	V1     Vec3
	V2     Vec3
	V3     Vec3
}

type Mesh struct {
	Triangles []Triangle
}

// Shape is a loaded body or assembly. Implementations wrap whatever
// kernel actually did the parsing.
type Shape interface {
	// MassProperties returns volume, surface area, center of mass and
	// the bounding box of the whole shape.
	MassProperties() (MassProperties, error)
	// Topology counts the structural elements of the shape.
	Topology() (Topology, error)
	// Solids returns each solid body as its own Shape. One element for
	// a single part, several for an assembly.
	Solids() ([]Shape, error)
	// Valid reports whether the boundary representation is sound.
	Valid() (bool, error)
	// Manifold reports whether the shape is free of non-manifold
	// edges and vertices.
	Manifold() (bool, error)
	// Closed reports whether the shape is watertight.
	Closed() (bool, error)
	// Mesh tessellates the shape. Smaller deflections give finer
	// meshes.
	Mesh(linearDeflection, angularDeflection float64) (*Mesh, error)
}

// Kernel loads CAD files into shapes. Load returns ErrCorruptedFile for
// unparseable input and ErrUnsupportedFormat for extensions it does not
// handle.
type Kernel interface {
	Load(path string) (Shape, error)
}
