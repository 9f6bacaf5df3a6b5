package actuator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

//go:embed schema/pump-profile-v1.json
var pumpProfileSchemaJSON string

// Profile is the on-disk calibration record for one actuator. Automated run
// durations are computed from the flow rate; the runtime ceiling feeds the
// arbiter.
type Profile struct {
	ActuatorID            string       `json:"actuator_id"`
	Kind                  string       `json:"kind"`
	FlowRateMLPerS        float64      `json:"flow_rate_ml_per_s,omitempty"`
	MaxContinuousRuntimeS float64      `json:"max_continuous_runtime_s"`
	Calibration           *Calibration `json:"calibration,omitempty"`
}

type Calibration struct {
	MeasuredVolumeML float64 `json:"measured_volume_ml"`
	RunSeconds       float64 `json:"run_seconds"`
	CalibratedAt     string  `json:"calibrated_at,omitempty"`
}

const (
	KindPump  = "pump"
	KindValve = "valve"
)

// RunDurationFor converts a volume into pump runtime.
func (p *Profile) RunDurationFor(volumeML float64) (time.Duration, error) {
	if p.Kind != KindPump {
		return 0, fmt.Errorf("actuator %s is not a pump", p.ActuatorID)
	}
	if p.FlowRateMLPerS <= 0 {
		return 0, fmt.Errorf("actuator %s has no flow rate", p.ActuatorID)
	}
	if volumeML <= 0 {
		return 0, fmt.Errorf("non-positive volume %.2f ml", volumeML)
	}
	return time.Duration(volumeML / p.FlowRateMLPerS * float64(time.Second)), nil
}

func (p *Profile) MaxContinuousRuntime() time.Duration {
	return time.Duration(p.MaxContinuousRuntimeS * float64(time.Second))
}

// ProfileStore loads and validates the actuator profiles of one bank.
// Every profile file is checked against the embedded schema before use; a
// profile that fails validation never reaches the sequencer.
type ProfileStore struct {
	dir    string
	schema *jsonschema.Schema
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewProfileStore(dir string, logger *zap.Logger) (*ProfileStore, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("pump-profile-v1.json",
		strings.NewReader(pumpProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("pump-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	store := &ProfileStore{
		dir:      dir,
		schema:   schema,
		logger:   logger.Named("profiles"),
		profiles: make(map[string]*Profile),
	}
	if err := store.loadAll(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ProfileStore) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read profile dir %s: %w", s.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		profile, err := s.loadFile(path)
		if err != nil {
			return err
		}

		if _, dup := s.profiles[profile.ActuatorID]; dup {
			return fmt.Errorf("duplicate profile for actuator %s", profile.ActuatorID)
		}
		s.profiles[profile.ActuatorID] = profile

		s.logger.Info("profile loaded",
			zap.String("actuator", profile.ActuatorID),
			zap.String("kind", profile.Kind),
			zap.Float64("flow_rate_ml_per_s", profile.FlowRateMLPerS))
	}

	if len(s.profiles) == 0 {
		return fmt.Errorf("no actuator profiles in %s", s.dir)
	}
	return nil
}

func (s *ProfileStore) loadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	if err := s.validate(data); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile %s: %w", path, err)
	}
	return &profile, nil
}

func (s *ProfileStore) validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (s *ProfileStore) Get(actuatorID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[actuatorID]
	if !ok {
		return nil, fmt.Errorf("no profile for actuator %s", actuatorID)
	}
	return profile, nil
}

func (s *ProfileStore) All() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out
}

// Limits maps every actuator to its runtime ceiling, for the arbiter.
func (s *ProfileStore) Limits() map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limits := make(map[string]time.Duration, len(s.profiles))
	for id, p := range s.profiles {
		limits[id] = p.MaxContinuousRuntime()
	}
	return limits
}

// UpdateCalibration recomputes a pump's flow rate from a measured run and
// persists the profile. The file is replaced atomically.
func (s *ProfileStore) UpdateCalibration(actuatorID string, measuredVolumeML, runSeconds float64) (*Profile, error) {
	if measuredVolumeML <= 0 || runSeconds <= 0 {
		return nil, fmt.Errorf("calibration values must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[actuatorID]
	if !ok {
		return nil, fmt.Errorf("no profile for actuator %s", actuatorID)
	}
	if profile.Kind != KindPump {
		return nil, fmt.Errorf("actuator %s is not a pump", actuatorID)
	}

	updated := *profile
	updated.FlowRateMLPerS = measuredVolumeML / runSeconds
	updated.Calibration = &Calibration{
		MeasuredVolumeML: measuredVolumeML,
		RunSeconds:       runSeconds,
		CalibratedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(&updated, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := s.validate(data); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, actuatorID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to replace profile: %w", err)
	}

	s.profiles[actuatorID] = &updated

	s.logger.Info("calibration updated",
		zap.String("actuator", actuatorID),
		zap.Float64("flow_rate_ml_per_s", updated.FlowRateMLPerS))
	return &updated, nil
}
