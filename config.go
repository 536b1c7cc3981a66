/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	atlasDir      string
	atlases       []string
	bind          string
	dbDriver      string
	dbPath        string
	jwtSecret     string
	lobbyTimeout  time.Duration
	playerTimeout time.Duration
	port          int
	prefix        string
	profile       bool
	tlsCert       string
	tlsKey        string
	verbose       bool
	version       bool
}

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch c.dbDriver {
	case driverSQLite, driverPostgres:
	default:
		return fmt.Errorf("invalid database driver (must be %q or %q): %q", driverSQLite, driverPostgres, c.dbDriver)
	}
	if c.dbPath == "" {
		return errors.New("--db must not be empty")
	}
	if c.atlasDir == "" {
		return errors.New("--atlas-dir must not be empty")
	}
	if c.jwtSecret == "" {
		return errors.New("--jwt-secret must be provided")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets NEUROGUESSR_* variables fill in any flag not set on the
// command line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}

		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(strings.Split(v.GetString(f.Name), ","))
			return
		}
		_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
	})
}

func normalizeFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("NEUROGUESSR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "neuroguessr",
		Short:         "Serves the neuroguessr brain atlas guessing game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRun: func(cmd *cobra.Command, args []string) {
			bindEnv(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.StringVar(&cfg.atlasDir, "atlas-dir", "atlases", "directory holding <id>.nii.gz volumes and <id>.json label files (env: NEUROGUESSR_ATLAS_DIR)")
	fs.StringSliceVar(&cfg.atlases, "atlas", nil, "atlas id to load, may be repeated (default all in --atlas-dir) (env: NEUROGUESSR_ATLAS)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: NEUROGUESSR_BIND)")
	fs.StringVar(&cfg.dbPath, "db", "neuroguessr.db", "sqlite database path or postgres connection string (env: NEUROGUESSR_DB)")
	fs.StringVar(&cfg.dbDriver, "db-driver", driverSQLite, "database driver, sqlite or postgres (env: NEUROGUESSR_DB_DRIVER)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "key used to sign and verify bearer tokens (env: NEUROGUESSR_JWT_SECRET)")
	fs.DurationVar(&cfg.lobbyTimeout, "lobby-timeout", 60*time.Minute, "time before idle multiplayer lobbies are closed (env: NEUROGUESSR_LOBBY_TIMEOUT)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 2*time.Minute, "time before disconnected lobby players are dropped (env: NEUROGUESSR_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: NEUROGUESSR_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: NEUROGUESSR_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: NEUROGUESSR_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: NEUROGUESSR_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: NEUROGUESSR_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: NEUROGUESSR_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: NEUROGUESSR_VERSION)")

	cmd.AddCommand(newTokenCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("neuroguessr v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// newTokenCmd prints a bearer token for a user id, for operators wiring the
// API into an existing account system.
func newTokenCmd(cfg *Config) *cobra.Command {
	v := newViper()

	var (
		user string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for a user.",
		Args:  cobra.ExactArgs(0),
		PreRun: func(cmd *cobra.Command, args []string) {
			bindEnv(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.jwtSecret == "" {
				return errors.New("--jwt-secret must be provided")
			}
			if strings.TrimSpace(user) == "" {
				return errors.New("--user must be provided")
			}

			token, err := newAuth(cfg.jwtSecret).issue(user, ttl, time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "key used to sign bearer tokens (env: NEUROGUESSR_JWT_SECRET)")
	fs.StringVarP(&user, "user", "u", "", "user id to place in the token subject")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")

	return cmd
}
