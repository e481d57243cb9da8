// Command txsupport serves and queries a FHIR terminology validation support
// chain built from local files, FHIR packages, S3, SQL stores and a remote
// terminology server.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gofhir/validationsupport/internal/config"
	"github.com/gofhir/validationsupport/pkg/logger"
)

var version = "0.1.0"

// app is the state shared by every command after flags are parsed.
type app struct {
	configFile string
	keys       map[string]string
	cfg        *config.Config
	logger     zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{keys: map[string]string{}}
	for flag, key := range persistentKeys {
		a.bind(flag, key)
	}
	root := &cobra.Command{
		Use:           "txsupport",
		Short:         "FHIR terminology validation support",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (YAML or JSON)")
	flags.String("log-level", "", "log level: debug, info, warn, error, off")
	flags.String("log-format", "", "log format: json or console")
	flags.String("fhir-version", "", "FHIR version: R4, R4B or R5")
	flags.StringSlice("dir", nil, "directory of terminology resources to load (repeatable)")
	flags.StringSlice("package", nil, "FHIR package name#version to load (repeatable)")
	flags.String("sqlite", "", "SQLite terminology database")
	flags.String("remote", "", "remote terminology server base URL")

	root.AddCommand(
		newServeCmd(a),
		newLookupCmd(a),
		newValidateCodeCmd(a),
		newExpandCmd(a),
		newTranslateCmd(a),
		newImportCmd(a),
		newVersionCmd(),
	)
	return root
}

// persistentKeys maps persistent flags to configuration keys.
var persistentKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"fhir-version": "fhir_version",
	"dir":          "terminology.dirs",
	"package":      "terminology.packages",
	"sqlite":       "sqlite.path",
	"remote":       "remote.url",
}

// bind makes flag, when set, override the configuration key.
func (a *app) bind(flag, key string) {
	a.keys[flag] = key
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	for flag, key := range a.keys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	l, err := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    logger.Format(strings.ToLower(cfg.Log.Format)),
		Output:    cmd.ErrOrStderr(),
		Component: "txsupport",
	})
	if err != nil {
		return err
	}
	logger.SetDefault(l)

	a.cfg, a.logger = cfg, l
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "txsupport v%s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
