package pipeline

import (
	"encoding/json"

	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/units"
)

// AssetMetadata is the JSON blob stored on a processed asset. Linear
// values are in Units, areas and volumes in its square and cube.
type AssetMetadata struct {
	FileName     string               `json:"file_name"`
	FileFormat   string               `json:"file_format"`
	Volume       float64              `json:"volume"`
	SurfaceArea  float64              `json:"surface_area"`
	CenterOfMass geometry.Vec3        `json:"center_of_mass"`
	BoundingBox  geometry.BoundingBox `json:"bounding_box"`
	Topology     geometry.Topology    `json:"topology"`
	Units        string               `json:"units"`
}

func metadataFromProps(filename string, props geometry.MassProperties, topo geometry.Topology) AssetMetadata {
	if props.Units == "" {
		props.Units = units.FormatDefault(geometry.FileFormat(filename))
	}
	return AssetMetadata{
		FileName:     filename,
		FileFormat:   geometry.FileFormat(filename),
		Volume:       props.Volume,
		SurfaceArea:  props.SurfaceArea,
		CenterOfMass: props.CenterOfMass,
		BoundingBox:  props.BoundingBox,
		Topology:     topo,
		Units:        props.Units,
	}
}

// placeholderMetadata is stored for formats the kernel cannot measure,
// so every completed asset carries the same metadata shape.
func placeholderMetadata(filename string) AssetMetadata {
	return AssetMetadata{
		FileName:   filename,
		FileFormat: geometry.FileFormat(filename),
		Units:      units.DetectFromFilename(filename),
	}
}

func decodeMetadata(raw []byte) (AssetMetadata, bool) {
	var meta AssetMetadata
	if len(raw) == 0 {
		return meta, false
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, false
	}
	return meta, true
}
