package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pavelpascari/listsim/pkg/config"
)

type rootOptions struct {
	ConfigPath string
	Config     *config.Config
	Fs         afero.Fs
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	opts := &rootOptions{Fs: fs}

	cmd := &cobra.Command{
		Use:   "listsim",
		Short: "Simulated paginated listing backend",
		Long: `listsim serves pages of user records with simulated latency,
transient failures, a short-lived response cache and cancellation of
superseded requests.

Configuration is read from an optional YAML file and LISTSIM_* environment
variables, e.g. LISTSIM_FAILURE_RATE=0 or LISTSIM_MAX_LATENCY=500ms.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.Fs, opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newSimulateCommand(opts),
		newSchemaCommand(),
	)

	return cmd
}
