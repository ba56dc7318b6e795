package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Download the model artifact if it is missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newProvisioner(cfg, logger)
		defer p.Close()
		ok := p.EnsureAvailable(cmd.Context())
		for !ok && p.Fetching() && cmd.Context().Err() == nil {
			ok = p.EnsureAvailable(cmd.Context())
		}
		if !ok {
			return errors.New("model artifact is not available; see the log for the fetch error")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "model artifact ready at %s\n", p.Path())
		return nil
	},
}
