package config

import "time"

// TimeoutConfig holds every bound applied to a refresh run
type TimeoutConfig struct {
	// Top-level page loads (home page, return to home, reload)
	Navigation time.Duration `json:"navigation"`

	// Trigger control visibility
	Visibility time.Duration `json:"visibility"`

	// Each participant of the popup / same-tab race
	Race time.Duration `json:"race"`

	// Direct navigation to the tool page
	Fallback time.Duration `json:"fallback"`

	// Whole run, including dispatch
	Run time.Duration `json:"run"`
}

// DefaultTimeoutConfig returns the default timeouts
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Navigation: 90 * time.Second,
		Visibility: 10 * time.Second,
		Race:       10 * time.Second,
		Fallback:   30 * time.Second,
		Run:        10 * time.Minute,
	}
}

// ApplyEnv overrides the defaults from the environment
func (t *TimeoutConfig) ApplyEnv() {
	t.Navigation = getEnvAsDuration("TIMEOUT_NAVIGATION", t.Navigation)
	t.Visibility = getEnvAsDuration("TIMEOUT_VISIBILITY", t.Visibility)
	t.Race = getEnvAsDuration("TIMEOUT_RACE", t.Race)
	t.Fallback = getEnvAsDuration("TIMEOUT_FALLBACK", t.Fallback)
	t.Run = getEnvAsDuration("TIMEOUT_RUN", t.Run)
}
