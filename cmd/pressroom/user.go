package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/spf13/cobra"
)

var (
	userEmail    string
	userName     string
	userRole     string
	userPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a password account",
	Long: `Create a password account. The password is read from --password or
the PRESSROOM_USER_PASSWORD environment variable.`,
	RunE: runUserCreate,
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "account email (required)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	userCreateCmd.Flags().StringVar(&userRole, "role", string(auth.RoleEditor), "role (admin, editor)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "account password")

	_ = userCreateCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pw := userPassword
	if pw == "" {
		pw = os.Getenv("PRESSROOM_USER_PASSWORD")
	}

	if len(pw) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	params := auth.CreateUserParams{
		Email:    userEmail,
		Password: pw,
		Role:     auth.Role(userRole),
	}

	if name := strings.TrimSpace(userName); name != "" {
		params.Name = &name
	}

	return withManager(cmd.Context(), cfg, func(ctx context.Context, m *auth.Manager) error {
		user, err := m.CreateUser(ctx, params)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		log.WithField("id", user.ID).
			WithField("email", user.Email).
			WithField("role", user.Role).
			Info("User created")

		return nil
	})
}
