package pass

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/atmos/gpucore"
)

// TerrainShape selects the procedural terrain heightfield.
type TerrainShape uint8

// Terrain shapes.
const (
	// TerrainDefault is gently rolling hills.
	TerrainDefault TerrainShape = iota
	// TerrainMountain is a ridged mountain range.
	TerrainMountain
)

// String returns the flag name of the shape.
func (s TerrainShape) String() string {
	switch s {
	case TerrainDefault:
		return "default"
	case TerrainMountain:
		return "mountain"
	default:
		return fmt.Sprintf("TerrainShape(%d)", s)
	}
}

// ParseTerrainShape parses a shape name as printed by String.
func ParseTerrainShape(name string) (TerrainShape, error) {
	switch strings.ToLower(name) {
	case "default":
		return TerrainDefault, nil
	case "mountain":
		return TerrainMountain, nil
	}
	return 0, fmt.Errorf("pass: unknown terrain %q (want default or mountain)", name)
}

// Vertex is one terrain vertex.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

// VertexStride is the encoded size of a Vertex.
// Layout: position (vec3<f32>) + normal (vec3<f32>) + uv (vec2<f32>) = 32 bytes.
const VertexStride = 32

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// terrain extent in world units and peak heights per shape.
const (
	terrainExtent      = 240.0
	terrainHillHeight  = 6.0
	terrainPeakHeight  = 45.0
	terrainNormalDelta = 0.5
)

// GenerateTerrain builds a square grid of (n+1)² vertices centered at the
// origin and displaced by the shape's heightfield. n is clamped to [1, 1024].
func GenerateTerrain(shape TerrainShape, n int) Mesh {
	n = min(max(n, 1), 1024)
	height := hills
	if shape == TerrainMountain {
		height = ridges
	}

	m := Mesh{
		Vertices: make([]Vertex, 0, (n+1)*(n+1)),
		Indices:  make([]uint32, 0, n*n*6),
	}
	step := terrainExtent / float64(n)
	half := terrainExtent / 2
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			x := float64(i)*step - half
			z := float64(j)*step - half
			y := height(x, z)
			// Central differences.
			dx := height(x+terrainNormalDelta, z) - height(x-terrainNormalDelta, z)
			dz := height(x, z+terrainNormalDelta) - height(x, z-terrainNormalDelta)
			nx, ny, nz := -dx, 2*terrainNormalDelta, -dz
			l := math.Sqrt(nx*nx + ny*ny + nz*nz)
			m.Vertices = append(m.Vertices, Vertex{
				Position: [3]float32{float32(x), float32(y), float32(z)},
				Normal:   [3]float32{float32(nx / l), float32(ny / l), float32(nz / l)},
				UV:       [2]float32{float32(i) / float32(n), float32(j) / float32(n)},
			})
		}
	}
	row := uint32(n + 1) //nolint:gosec // n is clamped to 1024
	for j := range uint32(n) {
		for i := range uint32(n) {
			a := j*row + i
			b := a + 1
			c := a + row
			d := c + 1
			m.Indices = append(m.Indices, a, c, b, b, c, d)
		}
	}
	return m
}

func hills(x, z float64) float64 {
	return terrainHillHeight * (math.Sin(x*0.05)*math.Cos(z*0.04) + 0.5*math.Sin((x+z)*0.11))
}

// ridges sums octaves of ridged value noise.
func ridges(x, z float64) float64 {
	var h, amp, freq = 0.0, 1.0, 1.0 / 60
	for range 5 {
		v := 1 - math.Abs(2*valueNoise(x*freq, z*freq)-1)
		h += amp * v * v
		amp *= 0.5
		freq *= 2
	}
	// Fade the range out toward the borders.
	r := math.Hypot(x, z) / (terrainExtent / 2)
	return terrainPeakHeight * h * math.Max(0, 1-r*r)
}

// valueNoise is smoothly interpolated lattice noise in [0,1].
func valueNoise(x, z float64) float64 {
	xi, zi := math.Floor(x), math.Floor(z)
	fx, fz := x-xi, z-zi
	ux, uz := fx*fx*(3-2*fx), fz*fz*(3-2*fz)
	ix, iz := int64(xi), int64(zi)
	a := lattice(ix, iz)
	b := lattice(ix+1, iz)
	c := lattice(ix, iz+1)
	d := lattice(ix+1, iz+1)
	return a + (b-a)*ux + (c-a)*uz + (a-b-c+d)*ux*uz
}

func lattice(x, z int64) float64 {
	h := uint64(x)*0x9E3779B97F4A7C15 ^ uint64(z)*0xC2B2AE3D27D4EB4F //nolint:gosec // hashing
	h ^= h >> 29
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 32
	return float64(h>>11) / (1 << 53)
}

// encodeVertices encodes vertices with VertexStride bytes each.
func encodeVertices(vs []Vertex) []byte {
	buf := make([]byte, len(vs)*VertexStride)
	for i, v := range vs {
		b := buf[i*VertexStride:]
		putFloats(b[0:12], v.Position[:]...)
		putFloats(b[12:24], v.Normal[:]...)
		putFloats(b[24:32], v.UV[:]...)
	}
	return buf
}

func encodeIndices(is []uint32) []byte {
	buf := make([]byte, len(is)*4)
	for i, v := range is {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func putFloats(b []byte, vs ...float32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
}

// MeshBuffers is a mesh resident in device-local buffers.
type MeshBuffers struct {
	Vertex     gpucore.Buffer
	Index      gpucore.Buffer
	IndexCount uint32

	res owned
}

// UploadMesh copies m into device-local vertex and index buffers through
// host-visible staging buffers. The staging buffers are queued on
// ctx.Deletions and must be flushed once the device is idle.
func UploadMesh(ctx *Context, name string, m Mesh) (*MeshBuffers, error) {
	if ctx == nil || ctx.Device == nil || ctx.Registry == nil {
		return nil, fmt.Errorf("%w: context without device or registry", ErrMissingInput)
	}
	if len(m.Vertices) == 0 || len(m.Indices) == 0 {
		return nil, fmt.Errorf("pass: mesh %s is empty", name)
	}
	mb := &MeshBuffers{IndexCount: uint32(len(m.Indices))} //nolint:gosec // bounded by GenerateTerrain
	var err error
	if mb.Vertex, err = upload(ctx, &mb.res, name+"-vertex", gpucore.BufferUsageVertex, encodeVertices(m.Vertices)); err != nil {
		mb.Destroy()
		return nil, err
	}
	if mb.Index, err = upload(ctx, &mb.res, name+"-index", gpucore.BufferUsageIndex, encodeIndices(m.Indices)); err != nil {
		mb.Destroy()
		return nil, err
	}
	ctx.logger().Debug("pass: mesh uploaded", "name", name,
		"vertices", len(m.Vertices), "indices", len(m.Indices))
	return mb, nil
}

// Destroy releases the vertex and index buffers.
func (mb *MeshBuffers) Destroy() { mb.res.release() }
