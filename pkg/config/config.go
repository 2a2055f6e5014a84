// Package config provides the nvswitchd configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/leptonai/nvswitchd/pkg/nvswitch/deferred"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/intr"
)

// Config provides the nvswitchd configuration.
type Config struct {
	APIVersion string `json:"api_version"`

	// Device is the PCI device ID printed in SXid lines and used as the
	// event store bucket.
	Device string `json:"device"`

	Topology Topology `json:"topology"`

	// Delay between the first deferred link error and its error check.
	Debounce metav1.Duration `json:"debounce"`
	// Delay of the link state check queued by MINION link faults.
	LinkStateCheckDelay metav1.Duration `json:"link_state_check_delay"`
	// How long a retraining link may keep re-arming its error check.
	RetrainGraceWindow metav1.Duration `json:"retrain_grace_window"`

	// State file that persists the error events.
	// If empty, the events are kept in memory only.
	State string `json:"state"`

	// Amount of time to retain error events for.
	RetentionPeriod metav1.Duration `json:"retention_period"`

	LogLevel string `json:"log_level"`
	// Rotated log file; logs go to stderr when empty.
	LogFile string `json:"log_file"`

	// ExtraMasks adds interrupt mask bits per fault tree, keyed by tree
	// ID (e.g., "route.nonfatal.0"). Masked bits are never serviced.
	ExtraMasks map[string]uint32 `json:"extra_masks,omitempty"`

	// Offload routes counter clears and containment through the offload
	// engine when set.
	Offload bool `json:"offload"`

	// Size of the log sink queue; records beyond it are dropped.
	SinkQueueSize int `json:"sink_queue_size"`
}

// Topology is the switch geometry.
type Topology struct {
	Links         int `json:"links"`
	LinksPerGroup int `json:"links_per_group"`
	Tiles         int `json:"tiles"`
	PRIHubs       int `json:"pri_hubs"`
}

var (
	ErrInvalidDebounce        = errors.New("debounce must be between 1ms and 1 minute")
	ErrInvalidStateCheckDelay = errors.New("link_state_check_delay must be between 1ms and 1 minute")
	ErrInvalidGraceWindow     = errors.New("retrain_grace_window must not be shorter than the debounce")
	ErrInvalidSinkQueueSize   = errors.New("sink_queue_size must be positive")
)

func (config *Config) Validate() error {
	if err := config.IntrTopology().Validate(); err != nil {
		return err
	}
	if d := config.Debounce.Duration; d < time.Millisecond || d > time.Minute {
		return ErrInvalidDebounce
	}
	if d := config.LinkStateCheckDelay.Duration; d < time.Millisecond || d > time.Minute {
		return ErrInvalidStateCheckDelay
	}
	if config.RetrainGraceWindow.Duration < config.Debounce.Duration {
		return ErrInvalidGraceWindow
	}
	if config.RetentionPeriod.Duration < time.Minute {
		return fmt.Errorf("retention_period must be at least 1 minute, got %s", config.RetentionPeriod.Duration)
	}
	if config.SinkQueueSize <= 0 {
		return ErrInvalidSinkQueueSize
	}
	for id := range config.ExtraMasks {
		if _, ok := intr.FindTree(id); !ok {
			return fmt.Errorf("extra_masks: unknown fault tree %q", id)
		}
	}
	return nil
}

func (config *Config) IntrTopology() intr.Topology {
	return intr.Topology{
		Links:         config.Topology.Links,
		LinksPerGroup: config.Topology.LinksPerGroup,
		Tiles:         config.Topology.Tiles,
		PRIHubs:       config.Topology.PRIHubs,
	}
}

func (config *Config) DeferredConfig() deferred.Config {
	return deferred.Config{
		Debounce:        config.Debounce.Duration,
		StateCheckDelay: config.LinkStateCheckDelay.Duration,
		GraceWindow:     config.RetrainGraceWindow.Duration,
	}
}

// LoadFile overlays the YAML (or JSON) file on cfg and validates the result.
func LoadFile(cfg *Config, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return fmt.Errorf("failed to parse config %q: %w", file, err)
	}
	return cfg.Validate()
}

// YAML returns the config in YAML.
func (config *Config) YAML() ([]byte, error) {
	return yaml.Marshal(config)
}
