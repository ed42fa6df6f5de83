package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/proof"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	KeyFile   string
	Committee int
	Force     bool
}

// KeygenResult lists the generated material. Keys are secret.
type KeygenResult struct {
	KeyFile   string   `json:"key_file"`
	Keys      []string `json:"keys"`
	Addresses []string `json:"addresses"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a BGV key file and committee keys",
		Long: `Generate a BGV secret key file and a fresh signing committee.

The committee keys go into oracle.keys of a local deployment; the
addresses go into oracle.signers of a service whose oracle runs elsewhere.
Cipher parameters come from the config.

Example:
  sealgauge keygen --out sealgauge.key --committee 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.KeyFile, "out", "o", "sealgauge.key", "key file to write")
	cmd.Flags().IntVar(&opts.Committee, "committee", 0, "committee size (defaults to oracle.committee)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing key file")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	n := opts.Committee
	if n == 0 {
		n = cfg.Oracle.Committee
	}

	if _, err := os.Stat(opts.KeyFile); err == nil && !opts.Force {
		return out.Fail(NewExitError(ExitCommandError, fmt.Sprintf("%s exists (use --force to overwrite)", opts.KeyFile)))
	}

	kr, err := cipher.NewKeyring(cipher.Params{LogN: cfg.Cipher.LogN, PlaintextModulus: cfg.Cipher.PlaintextModulus})
	if err != nil {
		return out.Fail(err)
	}
	if err := kr.Save(opts.KeyFile); err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "failed to write key file", err))
	}

	committee, err := proof.NewCommittee(n)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "failed to generate committee", err))
	}
	res := KeygenResult{KeyFile: opts.KeyFile, Keys: committee.HexKeys(), Addresses: []string{}}
	for _, a := range committee.Addresses() {
		res.Addresses = append(res.Addresses, a.Hex())
	}

	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "wrote %s\n", res.KeyFile)
		fmt.Fprintln(w, "committee keys (oracle.keys):")
		for _, k := range res.Keys {
			fmt.Fprintf(w, "  %s\n", k)
		}
		fmt.Fprintln(w, "signer addresses (oracle.signers):")
		for _, a := range res.Addresses {
			fmt.Fprintf(w, "  %s\n", a)
		}
	})
}
