package config

import (
	"context"
	stdos "os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/leptonai/nvswitchd/pkg/eventstore"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/deferred"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/intr"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/sink"
)

const (
	DefaultAPIVersion = "v1"
	DefaultLogLevel   = "info"
)

var (
	DefaultDebounce            = metav1.Duration{Duration: deferred.DefaultDebounce}
	DefaultLinkStateCheckDelay = metav1.Duration{Duration: deferred.DefaultStateCheckDelay}
	DefaultRetrainGraceWindow  = metav1.Duration{Duration: deferred.DefaultGraceWindow}
	DefaultRetentionPeriod     = metav1.Duration{Duration: eventstore.DefaultRetention}
)

func DefaultConfig(ctx context.Context, opts ...OpOption) (*Config, error) {
	options := &Op{}
	if err := options.ApplyOpts(opts); err != nil {
		return nil, err
	}

	topo := intr.DefaultTopology
	cfg := &Config{
		APIVersion: DefaultAPIVersion,
		Device:     sink.DefaultDeviceID,
		Topology: Topology{
			Links:         topo.Links,
			LinksPerGroup: topo.LinksPerGroup,
			Tiles:         topo.Tiles,
			PRIHubs:       topo.PRIHubs,
		},
		Debounce:            DefaultDebounce,
		LinkStateCheckDelay: DefaultLinkStateCheckDelay,
		RetrainGraceWindow:  DefaultRetrainGraceWindow,
		RetentionPeriod:     DefaultRetentionPeriod,
		LogLevel:            DefaultLogLevel,
		SinkQueueSize:       sink.DefaultQueueSize,
	}

	if !options.InMemory {
		dir := options.DataDir
		if dir == "" {
			var err error
			dir, err = setupDefaultDir()
			if err != nil {
				return nil, err
			}
		} else if err := stdos.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		cfg.State = filepath.Join(dir, stateFileName)
	}

	return cfg, nil
}

const (
	defaultVarLib = "/var/lib/nvswitchd"
	stateFileName = "nvswitchd.state"
)

func setupDefaultDir() (string, error) {
	asRoot := stdos.Geteuid() == 0 // running as root

	d := defaultVarLib
	_, err := stdos.Stat("/var/lib")
	if !asRoot || stdos.IsNotExist(err) {
		homeDir, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		d = filepath.Join(homeDir, ".nvswitchd")
	}

	if _, err := stdos.Stat(d); stdos.IsNotExist(err) {
		if err = stdos.MkdirAll(d, 0755); err != nil {
			return "", err
		}
	}
	return d, nil
}

func DefaultStateFile() (string, error) {
	dir, err := setupDefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stateFileName), nil
}
