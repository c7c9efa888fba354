package main

// Command-line front end for the chest CT utilities.
//
// Usage:
//
//	ctscan series <dir|zip>
//	ctscan info <dir|zip> [--labels <dir|zip>]
//	ctscan window <in> <out>
//	ctscan overlay <ct> <labels> <out>
//	ctscan contour <ct> <labels> <out>
//	ctscan preview <ct> <outdir> [--labels <dir|zip>] [--mode window|overlay|contour]
//
// Inputs and outputs ending in ".zip" are zip archives; anything else is a
// directory. Settings may also come from .ctscan.yaml (in $HOME or the
// current directory) or from CTSCAN_* environment variables.

import (
	"flag"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"v.io/x/lib/vlog"
)

// config is the merged view of flags, environment and config file.
type config struct {
	SeriesID    string  `mapstructure:"series-id"`
	SeriesUID   string  `mapstructure:"series-uid"`
	Description string  `mapstructure:"description"`
	Compression string  `mapstructure:"compression"`
	Workers     int     `mapstructure:"workers"`
	Manifest    bool    `mapstructure:"manifest"`
	Opacity     float64 `mapstructure:"opacity"`
	Labels      string  `mapstructure:"labels"`
	Mode        string  `mapstructure:"mode"`
	Scale       float64 `mapstructure:"scale"`
	Annotate    bool    `mapstructure:"annotate"`
}

var defaults = map[string]any{
	"series-id":   "1",
	"compression": "none",
	"workers":     0,
	"opacity":     0.3,
	"mode":        "window",
	"scale":       1.0,
}

// loadConfig merges, from lowest to highest precedence, the defaults, the
// config file, CTSCAN_* environment variables and the flags of cmd.
func loadConfig(cmd *cobra.Command) (config, error) {
	var c config
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".ctscan")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, errors.Wrap(err, "config")
		}
	} else {
		vlog.VI(1).Infof("Using config %s", v.ConfigFileUsed())
	}
	v.SetEnvPrefix("ctscan")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, errors.Wrap(err, "config")
	}
	return c, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ctscan",
		Short:         "Chest CT windowing, overlays and DICOM series conversion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The vlog flags live in the Go flag set; mark it parsed.
			if err := flag.CommandLine.Parse(nil); err != nil {
				return err
			}
			return vlog.ConfigureLibraryLoggerFromFlags()
		},
	}
	pf := cmd.PersistentFlags()
	pf.AddGoFlagSet(flag.CommandLine)
	pf.String("config", "", "config file (default is $HOME/.ctscan.yaml or ./.ctscan.yaml)")
	pf.String("series-uid", "", "SeriesInstanceUID to read when an input holds several series")
	pf.Int("workers", 0, "files parsed concurrently; 0 means one per CPU")

	cmd.AddCommand(
		newSeriesCmd(),
		newInfoCmd(),
		newWindowCmd(),
		newOverlayCmd(),
		newContourCmd(),
		newPreviewCmd(),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		vlog.Fatalf("%v", err)
	}
}
