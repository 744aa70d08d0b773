package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/safemasking/masking-api/internal/auth"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/internal/store/model"
	"github.com/spf13/cobra"
)

var (
	userOrganization string
	userFirstName    string
	userLastName     string
	tokenTTL         time.Duration
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user and print a token when local authentication is configured",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		username := args[0]

		_, err = a.store.User().Create(ctx, model.User{
			Username:     username,
			Organization: userOrganization,
			FirstName:    userFirstName,
			LastName:     userLastName,
		})
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			fmt.Fprintf(cmd.ErrOrStderr(), "user %q already exists\n", username)
		case err != nil:
			return fmt.Errorf("creating user: %w", err)
		default:
			fmt.Fprintf(cmd.ErrOrStderr(), "user %q created\n", username)
		}

		if a.cfg.Service.Auth.AuthenticationType != auth.LocalAuthentication {
			return nil
		}

		token, err := auth.GenerateLocalToken(a.cfg.Service.Auth.JwtSecret, username, userOrganization, tokenTTL)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().StringVar(&userOrganization, "org", "", "Organization of the user")
	userCreateCmd.Flags().StringVar(&userFirstName, "first-name", "", "First name of the user")
	userCreateCmd.Flags().StringVar(&userLastName, "last-name", "", "Last name of the user")
	userCreateCmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Validity of the printed token")
}
