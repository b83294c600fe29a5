// Command passwd prepares secrets for the server configuration: bcrypt
// hashes for auth.password_hash and sealed ("enc:") values opened with SECRET_KEY.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Rrens/agent-bridge/internal/security"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Prepare secrets for the agent bridge configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "Print the bcrypt hash of a password",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := secretArg(args, "Password: ")
		if err != nil {
			return err
		}
		hash, err := security.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var sealCmd = &cobra.Command{
	Use:   "seal [value]",
	Short: "Seal a secret with the key in SECRET_KEY",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := os.Getenv("SECRET_KEY")
		if key == "" {
			return errors.New("SECRET_KEY is not set")
		}
		sealer, err := security.NewSealer(key)
		if err != nil {
			return err
		}
		value, err := secretArg(args, "Value: ")
		if err != nil {
			return err
		}
		sealed, err := sealer.Seal(value)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Print a new random SECRET_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := security.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

// secretArg takes the secret from args, a terminal prompt without echo, or
// the first line of piped stdin.
func secretArg(args []string, prompt string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if len(b) == 0 {
			return "", errors.New("empty input")
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", errors.New("empty input")
	}
	return line, nil
}

func main() {
	rootCmd.AddCommand(hashCmd, sealCmd, genkeyCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
