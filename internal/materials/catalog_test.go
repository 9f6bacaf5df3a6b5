package materials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaterials() []Material {
	return []Material{
		{ID: "A", Name: "Standard Grey", Pump: "pump_a"},
		{ID: "B", Name: "Flexible Clear", Pump: "pump_b"},
		{ID: "C", Name: "Tough Black", Pump: "pump_c"},
	}
}

func TestNewCatalog(t *testing.T) {
	catalog, err := NewCatalog(testMaterials(), "drain_pump", "air_valve")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, catalog.IDs())
	assert.True(t, catalog.Has("A"))
	assert.False(t, catalog.Has("D"))

	pump, err := catalog.PumpFor("B")
	require.NoError(t, err)
	assert.Equal(t, "pump_b", pump)

	_, err = catalog.PumpFor("Z")
	assert.Error(t, err)
}

func TestNewCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		mats  []Material
		drain string
	}{
		{"empty", nil, "drain_pump"},
		{"no drain pump", testMaterials(), ""},
		{"duplicate id", append(testMaterials(), Material{ID: "A", Pump: "pump_d"}), "drain_pump"},
		{"material on drain pump", []Material{{ID: "A", Pump: "drain_pump"}}, "drain_pump"},
		{"missing pump", []Material{{ID: "A"}}, "drain_pump"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.mats, tt.drain, "air_valve")
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "materials.yaml")

	yaml := `materials:
  - id: A
    name: Standard Grey
    pump: pump_a
  - id: B
    name: Flexible Clear
    pump: pump_b
drain_pump: drain_pump
air_valve: air_valve
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, catalog.IDs())
	assert.Equal(t, "drain_pump", catalog.DrainPump)
	assert.Equal(t, "air_valve", catalog.AirValve)

	m, ok := catalog.Get("A")
	require.True(t, ok)
	assert.Equal(t, "Standard Grey", m.Name)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
