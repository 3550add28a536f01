package main

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grandcru/winematch/internal/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfigYAML(cmd.OutOrStdout(), cfg)
	},
}

// redact returns a copy of c with credentials masked.
func redact(c config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Search.BraveAPIKey)
	mask(&c.Search.SerperAPIKey)
	mask(&c.Search.GoogleAPIKey)
	mask(&c.Ops.APIKey)
	c.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)
	return c
}

// redactURL masks the password of a URL-style DSN.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, ok := strings.Cut(userinfo, ":")
	if !ok {
		return raw
	}
	return scheme + "://" + user + ":" + redacted + "@" + host
}

func writeConfigYAML(w io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redact(*c)); err != nil {
		return eris.Wrap(err, "encode config")
	}
	return enc.Close()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
