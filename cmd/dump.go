package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var encryptDump bool

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Produce a database dump into the backup directory",
	Long: `Run mysqldump for the configured database and write the compressed result
into the backup directory, named so the next sync picks it up under the
rotation pattern. Connectivity is checked before mysqldump starts.

With --encrypt the finished dump is encrypted with AES-256-GCM using a
passphrase prompted for on the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication()
		if err != nil {
			return err
		}

		passphrase := ""
		if encryptDump {
			passphrase, err = readPassphrase()
			if err != nil {
				return err
			}
		}

		ctx, stop := runContext()
		defer stop()
		return app.RunDump(ctx, passphrase)
	},
}

// readPassphrase prompts twice on the terminal without echoing
func readPassphrase() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("--encrypt requires a terminal to prompt for the passphrase")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return string(first), nil
}

func init() {
	dumpCmd.Flags().BoolVar(&encryptDump, "encrypt", false, "encrypt the dump with a passphrase")
	rootCmd.AddCommand(dumpCmd)
}
