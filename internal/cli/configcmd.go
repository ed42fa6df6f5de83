package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Validate the --config file against the schema and print the result
with every default filled in. Without --config the defaults are printed.

Example:
  sealgauge config
  sealgauge config --config sealgauge.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return out.Fail(err)
			}
			if rootOpts.Format == "json" {
				return out.Success(cfg, nil)
			}
			src, err := cfg.Format()
			if err != nil {
				return out.Fail(err)
			}
			return out.Success(nil, func(w io.Writer) { w.Write(src) })
		},
	}
}
