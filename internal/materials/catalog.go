package materials

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog is the configured material set. Recipes may only reference
// materials listed here; the drain pump and the air valve are plumbing,
// never recipe targets.
type Catalog struct {
	Materials []Material `yaml:"materials"`
	DrainPump string     `yaml:"drain_pump"`
	AirValve  string     `yaml:"air_valve"`

	byID map[string]Material
}

type Material struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Pump        string `yaml:"pump"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read material catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse material catalog: %w", err)
	}

	if err := catalog.init(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// NewCatalog builds a catalog from in-memory entries. Used by tests and the
// simulated setup.
func NewCatalog(mats []Material, drainPump, airValve string) (*Catalog, error) {
	catalog := &Catalog{Materials: mats, DrainPump: drainPump, AirValve: airValve}
	if err := catalog.init(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) init() error {
	if len(c.Materials) == 0 {
		return fmt.Errorf("material catalog is empty")
	}
	if c.DrainPump == "" {
		return fmt.Errorf("material catalog missing drain_pump")
	}

	c.byID = make(map[string]Material, len(c.Materials))
	for _, m := range c.Materials {
		if m.ID == "" {
			return fmt.Errorf("material with empty id")
		}
		if m.Pump == "" {
			return fmt.Errorf("material %s has no pump assigned", m.ID)
		}
		if _, dup := c.byID[m.ID]; dup {
			return fmt.Errorf("duplicate material id %s", m.ID)
		}
		if m.Pump == c.DrainPump {
			return fmt.Errorf("material %s assigned the drain pump", m.ID)
		}
		c.byID[m.ID] = m
	}
	return nil
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

func (c *Catalog) Get(id string) (Material, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// PumpFor returns the actuator id that feeds the given material.
func (c *Catalog) PumpFor(id string) (string, error) {
	m, ok := c.byID[id]
	if !ok {
		return "", fmt.Errorf("unknown material %s", id)
	}
	return m.Pump, nil
}

// IDs returns the material identifiers in stable order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
