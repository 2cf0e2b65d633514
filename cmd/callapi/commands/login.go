package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/auth"
	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewLoginCommand creates the login command
func NewLoginCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for the client context",
		Long:  "Store a bearer token in local storage, where the client context reads it on every request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				read, err := promptToken()
				if err != nil {
					return err
				}

				token = read
			}

			parsed := auth.TokenFromRaw(token)
			if parsed.AccessToken == "" {
				return constants.ErrTokenNotFound
			}

			s := loadSettings()

			storage, err := s.tokenStorage()
			if err != nil {
				return err
			}

			err = storage.Set(s.StorageKey, parsed.AccessToken)
			if err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Token stored in %s\n", storage.Path())

			if !parsed.ExpiresAt.IsZero() {
				_, _ = fmt.Fprintf(out, "Expires at %s (in %s)\n",
					parsed.ExpiresAt.Format(time.RFC3339),
					time.Until(parsed.ExpiresAt).Round(time.Second))

				if !parsed.Valid() {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: token is expired or about to expire")
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&token, "token", "t", "", "bearer token (prompted when omitted)")

	return cmd
}

// NewLogoutCommand creates the logout command
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings()

			storage, err := s.tokenStorage()
			if err != nil {
				return err
			}

			source, err := auth.NewStorageTokenSource(storage, s.StorageKey)
			if err != nil {
				return err
			}

			err = source.Clear()
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}

func promptToken() (string, error) {
	fmt.Print("Token: ")

	fd := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int

	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()

		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}

		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	return strings.TrimSpace(line), nil
}
