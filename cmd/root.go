// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with INKWELL, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("INKWELL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/inkwell", "$HOME/.inkwell", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "inkwell",
		Short: "A hierarchical permission propagation engine for nested collections and documents",
		Long: `A hierarchical permission propagation engine for nested collections and documents.

Inkwell maintains consistent access-control grants across a tree of resources as grants
are created and revoked, documents are moved, and access requests are approved.`,
	}
}
