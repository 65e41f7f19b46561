package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tracking, activity and
// anomaly thresholds. Every field is optional; the Get* accessors return the
// built-in default for anything left unset, so partial files are safe.
type TuningConfig struct {
	// Track registry
	IoUMatchThreshold  *float64 `json:"iou_match_threshold,omitempty" yaml:"iou_match_threshold,omitempty"`
	MaxAge             *int     `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	HitsToConfirm      *int     `json:"hits_to_confirm,omitempty" yaml:"hits_to_confirm,omitempty"`
	TrackHistoryLength *int     `json:"track_history_length,omitempty" yaml:"track_history_length,omitempty"`
	Assigner           *string  `json:"assigner,omitempty" yaml:"assigner,omitempty"` // "greedy" or "hungarian"

	// Activity classifier (pixels/frame, pixels, degrees)
	StoppedSpeed          *float64 `json:"stopped_speed,omitempty" yaml:"stopped_speed,omitempty"`
	WalkingSpeed          *float64 `json:"walking_speed,omitempty" yaml:"walking_speed,omitempty"`
	RunningSpeed          *float64 `json:"running_speed,omitempty" yaml:"running_speed,omitempty"`
	InteractionDistance   *float64 `json:"interaction_distance,omitempty" yaml:"interaction_distance,omitempty"`
	DirectionChangeDeg    *float64 `json:"direction_change_deg,omitempty" yaml:"direction_change_deg,omitempty"`
	ErraticChanges        *int     `json:"erratic_changes,omitempty" yaml:"erratic_changes,omitempty"`
	ErraticWindow         *int     `json:"erratic_window,omitempty" yaml:"erratic_window,omitempty"`
	ActivityHistoryLength *int     `json:"activity_history_length,omitempty" yaml:"activity_history_length,omitempty"`
	PersonClassID         *int     `json:"person_class_id,omitempty" yaml:"person_class_id,omitempty"`

	// Anomaly rules
	SuddenAcceleration    *float64 `json:"sudden_acceleration,omitempty" yaml:"sudden_acceleration,omitempty"`
	HighSpeed             *float64 `json:"high_speed,omitempty" yaml:"high_speed,omitempty"`
	StoppedDuration       *string  `json:"stopped_duration,omitempty" yaml:"stopped_duration,omitempty"` // duration string like "5s"
	CrowdingDistance      *float64 `json:"crowding_distance,omitempty" yaml:"crowding_distance,omitempty"`
	CrowdingCount         *int     `json:"crowding_count,omitempty" yaml:"crowding_count,omitempty"`
	ReturnThreshold       *float64 `json:"return_threshold,omitempty" yaml:"return_threshold,omitempty"`
	AbandonedDuration     *string  `json:"abandoned_duration,omitempty" yaml:"abandoned_duration,omitempty"`
	StateGracePeriod      *string  `json:"state_grace_period,omitempty" yaml:"state_grace_period,omitempty"`
	VelocityHistoryLength *int     `json:"velocity_history_length,omitempty" yaml:"velocity_history_length,omitempty"`

	// Forbidden direction rule; disabled while ForbiddenDirectionDeg is unset.
	ForbiddenDirectionDeg          *float64 `json:"forbidden_direction_deg,omitempty" yaml:"forbidden_direction_deg,omitempty"`
	ForbiddenDirectionToleranceDeg *float64 `json:"forbidden_direction_tolerance_deg,omitempty" yaml:"forbidden_direction_tolerance_deg,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults. It matches config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		IoUMatchThreshold:  ptrFloat64(e.GetIoUMatchThreshold()),
		MaxAge:             ptrInt(e.GetMaxAge()),
		HitsToConfirm:      ptrInt(e.GetHitsToConfirm()),
		TrackHistoryLength: ptrInt(e.GetTrackHistoryLength()),
		Assigner:           ptrString(e.GetAssigner()),

		StoppedSpeed:          ptrFloat64(e.GetStoppedSpeed()),
		WalkingSpeed:          ptrFloat64(e.GetWalkingSpeed()),
		RunningSpeed:          ptrFloat64(e.GetRunningSpeed()),
		InteractionDistance:   ptrFloat64(e.GetInteractionDistance()),
		DirectionChangeDeg:    ptrFloat64(e.GetDirectionChangeDeg()),
		ErraticChanges:        ptrInt(e.GetErraticChanges()),
		ErraticWindow:         ptrInt(e.GetErraticWindow()),
		ActivityHistoryLength: ptrInt(e.GetActivityHistoryLength()),
		PersonClassID:         ptrInt(e.GetPersonClassID()),

		SuddenAcceleration:    ptrFloat64(e.GetSuddenAcceleration()),
		HighSpeed:             ptrFloat64(e.GetHighSpeed()),
		StoppedDuration:       ptrString(e.GetStoppedDuration().String()),
		CrowdingDistance:      ptrFloat64(e.GetCrowdingDistance()),
		CrowdingCount:         ptrInt(e.GetCrowdingCount()),
		ReturnThreshold:       ptrFloat64(e.GetReturnThreshold()),
		AbandonedDuration:     ptrString(e.GetAbandonedDuration().String()),
		StateGracePeriod:      ptrString(e.GetStateGracePeriod().String()),
		VelocityHistoryLength: ptrInt(e.GetVelocityHistoryLength()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under the max file size.
// Fields omitted from the file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.IoUMatchThreshold != nil {
		if *c.IoUMatchThreshold < 0 || *c.IoUMatchThreshold > 1 {
			return fmt.Errorf("iou_match_threshold must be between 0 and 1, got %f", *c.IoUMatchThreshold)
		}
	}

	positiveInts := []struct {
		name string
		v    *int
	}{
		{"hits_to_confirm", c.HitsToConfirm},
		{"track_history_length", c.TrackHistoryLength},
		{"erratic_changes", c.ErraticChanges},
		{"erratic_window", c.ErraticWindow},
		{"activity_history_length", c.ActivityHistoryLength},
		{"crowding_count", c.CrowdingCount},
		{"velocity_history_length", c.VelocityHistoryLength},
	}
	for _, p := range positiveInts {
		if p.v != nil && *p.v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, *p.v)
		}
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative, got %d", *c.MaxAge)
	}

	if c.Assigner != nil {
		switch *c.Assigner {
		case "", "greedy", "hungarian":
		default:
			return fmt.Errorf("assigner must be greedy or hungarian, got %q", *c.Assigner)
		}
	}

	// The speed bands must ascend or the classifier's residual band is empty.
	stopped, walking, running := c.GetStoppedSpeed(), c.GetWalkingSpeed(), c.GetRunningSpeed()
	if stopped < 0 || !(stopped <= walking && walking <= running) {
		return fmt.Errorf("speed thresholds must ascend: stopped=%g walking=%g running=%g", stopped, walking, running)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"stopped_duration", c.StoppedDuration},
		{"abandoned_duration", c.AbandonedDuration},
		{"state_grace_period", c.StateGracePeriod},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(*d.v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
	}

	if c.ForbiddenDirectionToleranceDeg != nil {
		if tol := *c.ForbiddenDirectionToleranceDeg; tol <= 0 || tol > 180 {
			return fmt.Errorf("forbidden_direction_tolerance_deg must be in (0, 180], got %f", tol)
		}
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetIoUMatchThreshold returns the minimum IoU for a detection/track match.
// A pair is accepted when 1-IoU is strictly below 1-threshold.
func (c *TuningConfig) GetIoUMatchThreshold() float64 {
	if c.IoUMatchThreshold == nil {
		return 0.3
	}
	return *c.IoUMatchThreshold
}

// GetMaxAge returns the max_age value or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 30
	}
	return *c.MaxAge
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetTrackHistoryLength returns the track_history_length value or the default.
func (c *TuningConfig) GetTrackHistoryLength() int {
	if c.TrackHistoryLength == nil {
		return 30
	}
	return *c.TrackHistoryLength
}

// GetAssigner returns the assigner name or the default.
func (c *TuningConfig) GetAssigner() string {
	if c.Assigner == nil || *c.Assigner == "" {
		return "greedy"
	}
	return *c.Assigner
}

// GetStoppedSpeed returns the stopped_speed value or the default.
func (c *TuningConfig) GetStoppedSpeed() float64 {
	if c.StoppedSpeed == nil {
		return 2.0
	}
	return *c.StoppedSpeed
}

// GetWalkingSpeed returns the walking_speed value or the default.
func (c *TuningConfig) GetWalkingSpeed() float64 {
	if c.WalkingSpeed == nil {
		return 5.0
	}
	return *c.WalkingSpeed
}

// GetRunningSpeed returns the running_speed value or the default.
func (c *TuningConfig) GetRunningSpeed() float64 {
	if c.RunningSpeed == nil {
		return 8.0
	}
	return *c.RunningSpeed
}

// GetInteractionDistance returns the interaction_distance value or the default.
func (c *TuningConfig) GetInteractionDistance() float64 {
	if c.InteractionDistance == nil {
		return 100.0
	}
	return *c.InteractionDistance
}

// GetDirectionChangeDeg returns the direction_change_deg value or the default.
func (c *TuningConfig) GetDirectionChangeDeg() float64 {
	if c.DirectionChangeDeg == nil {
		return 45.0
	}
	return *c.DirectionChangeDeg
}

// GetErraticChanges returns the erratic_changes value or the default.
func (c *TuningConfig) GetErraticChanges() int {
	if c.ErraticChanges == nil {
		return 3
	}
	return *c.ErraticChanges
}

// GetErraticWindow returns the erratic_window value or the default.
func (c *TuningConfig) GetErraticWindow() int {
	if c.ErraticWindow == nil {
		return 5
	}
	return *c.ErraticWindow
}

// GetActivityHistoryLength returns the activity_history_length value or the default.
func (c *TuningConfig) GetActivityHistoryLength() int {
	if c.ActivityHistoryLength == nil {
		return 30
	}
	return *c.ActivityHistoryLength
}

// GetPersonClassID returns the detector class id treated as a person (COCO 0).
func (c *TuningConfig) GetPersonClassID() int {
	if c.PersonClassID == nil {
		return 0
	}
	return *c.PersonClassID
}

// GetSuddenAcceleration returns the sudden_acceleration value or the default.
func (c *TuningConfig) GetSuddenAcceleration() float64 {
	if c.SuddenAcceleration == nil {
		return 10.0
	}
	return *c.SuddenAcceleration
}

// GetHighSpeed returns the high_speed value or the default.
func (c *TuningConfig) GetHighSpeed() float64 {
	if c.HighSpeed == nil {
		return 8.0
	}
	return *c.HighSpeed
}

// GetStoppedDuration parses and returns the StoppedDuration as a time.Duration.
func (c *TuningConfig) GetStoppedDuration() time.Duration {
	return parseDurationOr(c.StoppedDuration, 5*time.Second)
}

// GetCrowdingDistance returns the crowding_distance value or the default.
func (c *TuningConfig) GetCrowdingDistance() float64 {
	if c.CrowdingDistance == nil {
		return 80.0
	}
	return *c.CrowdingDistance
}

// GetCrowdingCount returns the crowding_count value or the default.
func (c *TuningConfig) GetCrowdingCount() int {
	if c.CrowdingCount == nil {
		return 3
	}
	return *c.CrowdingCount
}

// GetReturnThreshold returns the return_threshold value or the default.
func (c *TuningConfig) GetReturnThreshold() float64 {
	if c.ReturnThreshold == nil {
		return 50.0
	}
	return *c.ReturnThreshold
}

// GetAbandonedDuration parses and returns the AbandonedDuration as a time.Duration.
func (c *TuningConfig) GetAbandonedDuration() time.Duration {
	return parseDurationOr(c.AbandonedDuration, 10*time.Second)
}

// GetStateGracePeriod parses and returns the StateGracePeriod as a time.Duration.
func (c *TuningConfig) GetStateGracePeriod() time.Duration {
	return parseDurationOr(c.StateGracePeriod, 5*time.Second)
}

// GetVelocityHistoryLength returns the velocity_history_length value or the default.
func (c *TuningConfig) GetVelocityHistoryLength() int {
	if c.VelocityHistoryLength == nil {
		return 10
	}
	return *c.VelocityHistoryLength
}

// GetForbiddenDirection returns the forbidden heading in degrees and whether
// the rule is enabled at all.
func (c *TuningConfig) GetForbiddenDirection() (deg float64, ok bool) {
	if c.ForbiddenDirectionDeg == nil {
		return 0, false
	}
	return *c.ForbiddenDirectionDeg, true
}

// GetForbiddenDirectionToleranceDeg returns the half-angle of the forbidden
// cone or the default.
func (c *TuningConfig) GetForbiddenDirectionToleranceDeg() float64 {
	if c.ForbiddenDirectionToleranceDeg == nil {
		return 30.0
	}
	return *c.ForbiddenDirectionToleranceDeg
}
