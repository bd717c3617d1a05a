package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/inkwell-hq/inkwell/internal/build"
)

// NewVersionCommand returns the command to get the inkwell version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Return the Inkwell version",
		Long:  "Return the Inkwell version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("Inkwell Version %s Date %s commit id %s", build.Version, build.Date, build.Commit)
	return nil
}
