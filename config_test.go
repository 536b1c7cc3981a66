/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		atlasDir:  "atlases",
		dbDriver:  driverSQLite,
		dbPath:    ":memory:",
		jwtSecret: "secret",
		port:      8080,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"postgres", func(c *Config) { c.dbDriver = driverPostgres }, ""},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, "tls-key"},
		{"port zero", func(c *Config) { c.port = 0 }, "invalid port"},
		{"port too high", func(c *Config) { c.port = 70000 }, "invalid port"},
		{"unknown driver", func(c *Config) { c.dbDriver = "mysql" }, "database driver"},
		{"empty db", func(c *Config) { c.dbPath = "" }, "--db"},
		{"empty atlas dir", func(c *Config) { c.atlasDir = "" }, "--atlas-dir"},
		{"missing secret", func(c *Config) { c.jwtSecret = "" }, "--jwt-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)

			err := c.validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("NEUROGUESSR_PORT", "9191")
	t.Setenv("NEUROGUESSR_ATLAS", "aal,hoa")
	t.Setenv("NEUROGUESSR_DB_DRIVER", "postgres")

	cfg := &Config{}
	cmd := newCmd(cfg)

	if err := cmd.ParseFlags([]string{"--db-driver", "sqlite"}); err != nil {
		t.Fatal(err)
	}
	cmd.PreRun(cmd, nil)

	if cfg.port != 9191 {
		t.Fatalf("port = %d, want 9191 from env", cfg.port)
	}
	if len(cfg.atlases) != 2 || cfg.atlases[0] != "aal" || cfg.atlases[1] != "hoa" {
		t.Fatalf("atlases = %v", cfg.atlases)
	}
	if cfg.dbDriver != driverSQLite {
		t.Fatalf("db driver = %q, flag should win over env", cfg.dbDriver)
	}
}

func TestTokenCommand(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--jwt-secret", "s3cret", "--user", "ann"})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	user, err := newAuth("s3cret").verify(strings.TrimSpace(out.String()))
	if err != nil || user != "ann" {
		t.Fatalf("verify = %q, %v", user, err)
	}

	cmd = newCmd(&Config{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--jwt-secret", "s3cret"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("token without --user succeeded")
	}
}
