package geometry

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// WriteSTL writes a mesh as binary STL: an 80-byte header, a uint32
// triangle count, then 50 bytes per facet (normal, three vertices, and
// a zero attribute word), all little-endian float32.
func WriteSTL(path string, mesh *Mesh) error {
	if mesh == nil {
		return fmt.Errorf("nil mesh")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	header := make([]byte, 80)
	copy(header, []byte("binary stl preview"))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(mesh.Triangles))); err != nil {
		return err
	}
	for _, tri := range mesh.Triangles {
		for _, v := range []Vec3{tri.Normal, tri.V1, tri.V2, tri.V3} {
			if err := writeVec3(w, v); err != nil {
				return err
			}
		}
		// attribute byte count, unused
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeVec3(w *bufio.Writer, v Vec3) error {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if err := binary.Write(w, binary.LittleEndian, math.Float32bits(float32(c))); err != nil {
			return err
		}
	}
	return nil
}
