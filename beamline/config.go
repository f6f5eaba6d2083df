package beamline

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/xpdacq/acq/util"
)

// Config holds the beamline and server configuration.  It is populated from
// defaults overlaid with a yaml file.
type Config struct {
	// Addr is the address the HTTP server listens at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Root is the URL stem the beamline routes are served under
	Root string `koanf:"Root" yaml:"Root"`

	// FrameAcqTime is the default per-frame acquisition time, in seconds
	FrameAcqTime float64 `koanf:"FrameAcqTime" yaml:"FrameAcqTime"`

	// Detector is the name of the default area detector
	Detector string `koanf:"Detector" yaml:"Detector"`

	// DetectorQuantum is the readout quantum of the simulated detector, in seconds
	DetectorQuantum float64 `koanf:"DetectorQuantum" yaml:"DetectorQuantum"`

	// PhotonShutter is the device name of the photon shutter
	PhotonShutter string `koanf:"PhotonShutter" yaml:"PhotonShutter"`

	// FastShutter is the device name of the fast shutter
	FastShutter string `koanf:"FastShutter" yaml:"FastShutter"`

	// Shutter selects the shutter at startup, "fast" or "photon"
	Shutter string `koanf:"Shutter" yaml:"Shutter"`

	// DarkWindowMinutes is how long a dark stays valid
	DarkWindowMinutes float64 `koanf:"DarkWindowMinutes" yaml:"DarkWindowMinutes"`

	// AutoDark enables automatic dark collection for dispatched runs
	AutoDark bool `koanf:"AutoDark" yaml:"AutoDark"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	// LogFormat is one of text, json, dev
	LogFormat string `koanf:"LogFormat" yaml:"LogFormat"`

	// LogFile, if not empty, receives the logs instead of stdout
	LogFile string `koanf:"LogFile" yaml:"LogFile"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() Config {
	return Config{
		Addr:              ":8000",
		Root:              "/xpd",
		FrameAcqTime:      0.1,
		Detector:          "pe1c",
		DetectorQuantum:   0.1,
		PhotonShutter:     "shctl1",
		FastShutter:       "fs",
		Shutter:           "fast",
		DarkWindowMinutes: 3000,
		AutoDark:          true,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// DarkWindow returns DarkWindowMinutes as a duration
func (c Config) DarkWindow() time.Duration {
	return util.SecsToDuration(c.DarkWindowMinutes * 60)
}

// LoadConfig loads the defaults and then the yaml file at path over them.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	cfg := Config{}
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	err := k.Unmarshal("", &cfg)
	return cfg, err
}
