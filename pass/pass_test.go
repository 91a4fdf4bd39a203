package pass

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/atmos/backend/sim"
	"github.com/gogpu/atmos/resource"
)

func newContext(t *testing.T, w, h uint32) (*Context, *sim.Device) {
	t.Helper()
	dev := sim.New()
	t.Cleanup(dev.Destroy)
	reg := resource.NewRegistry(dev)
	t.Cleanup(reg.Close)
	return &Context{
		Device:         dev,
		Registry:       reg,
		Deletions:      resource.NewDeletionQueue(reg),
		Width:          w,
		Height:         h,
		FramesInFlight: 2,
	}, dev
}

// =============================================================================
// Pass IDs
// =============================================================================

func TestIDNames(t *testing.T) {
	if NumPasses != 12 {
		t.Fatalf("NumPasses = %d, want 12", NumPasses)
	}
	tests := []struct {
		id   ID
		want string
	}{
		{Depth, "Depth pre-pass"},
		{Clouds, "Cloud compute"},
		{AerialPerspective, "Aerial perspective LUT compute"},
		{GodRaysBlur, "God rays blur gen"},
		{PostProcessing, "Post processing"},
		{Terrain, "Terrain draw"},
		{ID(42), "ID(42)"},
		{ID(-1), "ID(-1)"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Errorf("ID(%d).String() = %q, want %q", int(tt.id), got, tt.want)
		}
	}

	names := Names()
	if len(names) != NumPasses {
		t.Fatalf("len(Names()) = %d, want %d", len(names), NumPasses)
	}
	names[0] = "changed"
	if Names()[0] != "Depth pre-pass" {
		t.Error("Names() returned shared storage")
	}
}

// =============================================================================
// Enum parsing
// =============================================================================

func TestParseWeather(t *testing.T) {
	tests := []struct {
		in      string
		want    Weather
		wantErr bool
	}{
		{"stratus", WeatherStratus, false},
		{"stratocumulus", WeatherStratocumulus, false},
		{"Cumulus", WeatherCumulus, false},
		{"NUBIS", WeatherNubis, false},
		{"", 0, true},
		{"cirrus", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeather(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWeather(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseWeather(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
	for w := WeatherStratus; w <= WeatherNubis; w++ {
		if back, err := ParseWeather(w.String()); err != nil || back != w {
			t.Errorf("ParseWeather(%q) = %s, %v", w.String(), back, err)
		}
	}
}

func TestParseTerrainShape(t *testing.T) {
	tests := []struct {
		in      string
		want    TerrainShape
		wantErr bool
	}{
		{"default", TerrainDefault, false},
		{"mountain", TerrainMountain, false},
		{"Mountain", TerrainMountain, false},
		{"desert", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTerrainShape(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTerrainShape(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseTerrainShape(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if s := TerrainShape(7).String(); s != "TerrainShape(7)" {
		t.Errorf("String() = %q", s)
	}
}

// =============================================================================
// Context
// =============================================================================

func TestContextValidate(t *testing.T) {
	base, _ := newContext(t, 64, 32)
	tests := []struct {
		name   string
		modify func(c *Context)
		ok     bool
	}{
		{"valid", func(*Context) {}, true},
		{"no device", func(c *Context) { c.Device = nil }, false},
		{"no registry", func(c *Context) { c.Registry = nil }, false},
		{"zero width", func(c *Context) { c.Width = 0 }, false},
		{"zero height", func(c *Context) { c.Height = 0 }, false},
		{"no frames in flight", func(c *Context) { c.FramesInFlight = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.modify(&c)
			if err := c.validate(); (err == nil) != tt.ok {
				t.Errorf("validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
	var nilCtx *Context
	if err := nilCtx.validate(); !errors.Is(err, ErrMissingInput) {
		t.Errorf("nil context validate() = %v, want ErrMissingInput", err)
	}
}

// =============================================================================
// Terrain mesh
// =============================================================================

func TestGenerateTerrain(t *testing.T) {
	tests := []struct {
		shape    TerrainShape
		n        int
		vertices int
		indices  int
	}{
		{TerrainDefault, 1, 4, 6},
		{TerrainDefault, 4, 25, 96},
		{TerrainMountain, 8, 81, 384},
		{TerrainDefault, 0, 4, 6},
		{TerrainDefault, -3, 4, 6},
	}
	for _, tt := range tests {
		m := GenerateTerrain(tt.shape, tt.n)
		if len(m.Vertices) != tt.vertices || len(m.Indices) != tt.indices {
			t.Errorf("GenerateTerrain(%s, %d) = %d vertices, %d indices; want %d, %d",
				tt.shape, tt.n, len(m.Vertices), len(m.Indices), tt.vertices, tt.indices)
		}
		for _, idx := range m.Indices {
			if int(idx) >= len(m.Vertices) {
				t.Fatalf("index %d out of range %d", idx, len(m.Vertices))
			}
		}
		for _, v := range m.Vertices {
			n := v.Normal
			l := math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]))
			if math.Abs(l-1) > 1e-4 || n[1] <= 0 {
				t.Fatalf("normal %v is not an upward unit vector", n)
			}
		}
	}
}

func TestGenerateTerrainShapesDiffer(t *testing.T) {
	hill := GenerateTerrain(TerrainDefault, 16)
	mountain := GenerateTerrain(TerrainMountain, 16)

	peak := func(m Mesh) float32 {
		var top float32
		for _, v := range m.Vertices {
			top = max(top, v.Position[1])
		}
		return top
	}
	if peak(mountain) <= peak(hill) {
		t.Errorf("mountain peak %.2f not above hill peak %.2f", peak(mountain), peak(hill))
	}
	first, last := hill.Vertices[0], hill.Vertices[len(hill.Vertices)-1]
	if first.Position[0] != -terrainExtent/2 || last.Position[2] != terrainExtent/2 {
		t.Errorf("grid corners = %v, %v", first.Position, last.Position)
	}
	if first.UV != [2]float32{0, 0} || last.UV != [2]float32{1, 1} {
		t.Errorf("grid UVs = %v, %v", first.UV, last.UV)
	}
}

func TestUploadMesh(t *testing.T) {
	ctx, dev := newContext(t, 64, 64)
	m := GenerateTerrain(TerrainDefault, 4)

	mb, err := UploadMesh(ctx, "terrain", m)
	if err != nil {
		t.Fatal(err)
	}
	defer mb.Destroy()

	if mb.IndexCount != uint32(len(m.Indices)) {
		t.Errorf("IndexCount = %d, want %d", mb.IndexCount, len(m.Indices))
	}
	if got := mb.Vertex.Size(); got != uint64(len(m.Vertices)*VertexStride) {
		t.Errorf("vertex buffer size = %d", got)
	}
	if !bytes.Equal(sim.BufferContents(mb.Vertex), encodeVertices(m.Vertices)) {
		t.Error("vertex buffer contents differ from the mesh")
	}
	if !bytes.Equal(sim.BufferContents(mb.Index), encodeIndices(m.Indices)) {
		t.Error("index buffer contents differ from the mesh")
	}

	// Two staging buffers wait for the flush.
	if ctx.Deletions.Len() != 2 {
		t.Fatalf("Deletions.Len() = %d, want 2", ctx.Deletions.Len())
	}
	before := ctx.Registry.Len()
	if err := ctx.Deletions.Flush(context.Background(), dev); err != nil {
		t.Fatal(err)
	}
	if got := ctx.Registry.Len(); got != before-2 {
		t.Errorf("registry Len after flush = %d, want %d", got, before-2)
	}
}

func TestUploadMeshWithoutDeletionQueue(t *testing.T) {
	ctx, _ := newContext(t, 64, 64)
	ctx.Deletions = nil

	mb, err := UploadMesh(ctx, "terrain", GenerateTerrain(TerrainDefault, 2))
	if err != nil {
		t.Fatal(err)
	}
	if got := ctx.Registry.Len(); got != 2 {
		t.Errorf("registry Len = %d, want 2 (staging released at once)", got)
	}
	mb.Destroy()
	if got := ctx.Registry.Len(); got != 0 {
		t.Errorf("registry Len after Destroy = %d, want 0", got)
	}
}

func TestUploadMeshErrors(t *testing.T) {
	ctx, _ := newContext(t, 64, 64)
	if _, err := UploadMesh(ctx, "empty", Mesh{}); err == nil {
		t.Error("UploadMesh(empty) succeeded")
	}
	if _, err := UploadMesh(nil, "terrain", GenerateTerrain(TerrainDefault, 1)); !errors.Is(err, ErrMissingInput) {
		t.Errorf("UploadMesh(nil ctx) = %v, want ErrMissingInput", err)
	}
}

func TestEncodeVertices(t *testing.T) {
	vs := []Vertex{{
		Position: [3]float32{1, 2, 3},
		Normal:   [3]float32{0, 1, 0},
		UV:       [2]float32{0.5, 0.25},
	}}
	b := encodeVertices(vs)
	if len(b) != VertexStride {
		t.Fatalf("len = %d, want %d", len(b), VertexStride)
	}
	want := make([]byte, VertexStride)
	putFloats(want, 1, 2, 3, 0, 1, 0, 0.5, 0.25)
	if !bytes.Equal(b, want) {
		t.Errorf("encodeVertices = %x, want %x", b, want)
	}
}
