// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"

	"github.com/SentryShot/sentryshot/internal"
	"github.com/SentryShot/sentryshot/pkg/logging"
	"github.com/spf13/pflag"
)

const (
	defaultSegmentCount     = 9
	defaultSegmentDurationS = 6
	defaultPartDurationMS   = 300
)

// ServerConfig is the process-wide configuration.
type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`

	// StorageDir is the root of recordings, events and logs.
	StorageDir string `json:"storagedir"`

	// MaxDiskUsageGB is the recording storage budget.
	MaxDiskUsageGB int `json:"maxdiskusagegb"`

	// MonitorsFile is a JSON file with the per-monitor configs.
	MonitorsFile string `json:"monitorsfile"`

	// HLS tuning.
	SegmentCount     int `json:"segmentcount"`
	SegmentDurationS int `json:"segmentdurationS"`
	PartDurationMS   int `json:"partdurationMS"`

	// Domains is a comma-separated list of domains for Let's Encrypt.
	Domains string `json:"domains"`
	// CertPath is a path to a valid TLS certificate.
	CertPath string `json:"-"`
	// KeyPath is a path to a valid private TLS key.
	KeyPath string `json:"-"`
}

// DefaultConfig holds the default values.
var DefaultConfig = ServerConfig{
	LogFormat:        "text",
	LogLevel:         "INFO",
	Port:             2020,
	StorageDir:       "./storage",
	MaxDiskUsageGB:   100,
	SegmentCount:     defaultSegmentCount,
	SegmentDurationS: defaultSegmentDurationS,
	PartDurationMS:   defaultPartDurationMS,
}

// LoadConfig loads defaults, config file, command line, and finally
// applies environment variables.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := DefaultConfig
	err := k.Load(structs.Provider(defaults, "json"), nil)
	if err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("sentryshot", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	printVersion := f.Bool("version", false, "print version and exit")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.String("storagedir", k.String("storagedir"), "storage root directory")
	f.Int("maxdiskusagegb", k.Int("maxdiskusagegb"), "recording storage budget (GB)")
	f.String("monitorsfile", k.String("monitorsfile"), "path to a JSON monitors file")
	f.Int("segmentcount", k.Int("segmentcount"), "number of HLS segments kept in the playlist")
	f.Int("segmentduration", k.Int("segmentdurationS"), "HLS segment duration (seconds)")
	f.Int("partduration", k.Int("partdurationMS"), "HLS part duration (milliseconds)")
	f.String("domains", k.String("domains"), "One or more DNS domains (comma-separated) for auto certificate from Let's Encrypt")
	f.String("certpath", k.String("certpath"), "path to TLS certificate file (for HTTPS). Use domains instead if possible")
	f.String("keypath", k.String("keypath"), "path to TLS private key file (for HTTPS). Use domains instead if possible.")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}
	internal.CheckVersion(*printVersion)

	// Load the config file provided on the command line.
	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Possibly override config file with command line parameters.
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables.
	err = k.Load(env.Provider("SENTRYSHOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SENTRYSHOT_")), "_", ".", -1)
	}), nil)
	if err != nil {
		return nil, err
	}

	err = checkTLSParams(k)
	if err != nil {
		return nil, err
	}

	// Make the storage directory absolute in case it is not already.
	storageDir := k.String("storagedir")
	if storageDir != "" && !path.IsAbs(storageDir) {
		storageDir = path.Join(cwd, storageDir)
		err = k.Load(confmap.Provider(map[string]any{
			"storagedir": storageDir,
		}, "."), nil)
		if err != nil {
			return nil, err
		}
	}

	if k.String("domains") != "" {
		err = k.Load(confmap.Provider(map[string]any{
			"port": 443,
		}, "."), nil)
		if err != nil {
			return nil, err
		}
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.CertPath = k.String("certpath")
	cfg.KeyPath = k.String("keypath")
	return &cfg, nil
}

func checkTLSParams(k *koanf.Koanf) error {
	domains := k.String("domains")
	certPath := k.String("certpath")
	keyPath := k.String("keypath")
	switch {
	case domains != "":
		if certPath != "" || keyPath != "" {
			return fmt.Errorf("cannot use certpath and keypath together with Let's Encrypt domains")
		}
		return nil
	case certPath == "" && keyPath == "":
		return nil // HTTP
	case certPath != "" && keyPath != "":
		return nil // HTTPS
	default:
		return fmt.Errorf("certpath and keypath must both be empty or set")
	}
}
