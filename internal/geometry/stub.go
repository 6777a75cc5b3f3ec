package geometry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stubKernel stands in until a real modeling kernel is linked. It
// checks that the file is structurally plausible and reports a single
// solid with zeroed measurements, which keeps every downstream consumer
// honest about handling empty metadata.
type stubKernel struct{}

// NewStubKernel returns a Kernel that validates file structure but does
// no real geometry evaluation.
func NewStubKernel() Kernel {
	return stubKernel{}
}

func (stubKernel) Load(path string) (Shape, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !geometryExts[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch ext {
	case ".step", ".stp":
		if !bytes.Contains(data[:min(len(data), 256)], []byte("ISO-10303-21")) {
			return nil, ErrCorruptedFile
		}
	case ".iges", ".igs":
		if len(data) == 0 {
			return nil, ErrCorruptedFile
		}
	}
	return &stubShape{path: path}, nil
}

type stubShape struct {
	path string
}

func (s *stubShape) MassProperties() (MassProperties, error) {
	return MassProperties{Units: DetectUnit(s.path)}, nil
}

func (s *stubShape) Topology() (Topology, error) {
	return Topology{Solids: 1, Shells: 1}, nil
}

func (s *stubShape) Solids() ([]Shape, error) {
	return []Shape{s}, nil
}

func (s *stubShape) Valid() (bool, error) { return true, nil }

func (s *stubShape) Manifold() (bool, error) { return true, nil }

func (s *stubShape) Closed() (bool, error) { return true, nil }

func (s *stubShape) Mesh(linearDeflection, angularDeflection float64) (*Mesh, error) {
	return &Mesh{}, nil
}
