package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hubbridge/mcp-gateway/internal/config"
	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

func adminCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "admin",
		Short: "Offline maintenance commands against the bridge store",
	}
	root.AddCommand(resetPasswordCmd())
	root.AddCommand(rotateKeyCmd())
	root.AddCommand(listUsersCmd())
	return root
}

func openStoreForAdmin(ctx context.Context) (*store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, cfg, nil
}

func resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username> <new-password>",
		Short: "Reset a user's password and force a change on next login",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, _, err := openStoreForAdmin(ctx)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(2)
			}
			defer st.Close()

			user, err := st.FindUserByUsername(ctx, args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "user %q not found: %v\n", args[0], err)
				return exitCode(1)
			}
			hash, err := crypto.HashPassword(args[1])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(1)
			}
			if err := st.SetPassword(ctx, user.ID, hash, true); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password reset for %q; must_change_password set\n", args[0])
			return nil
		},
	}
}

func rotateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key <purpose>",
		Short: "Rotate a system key (jwt_signing or hub_token_encryption)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose := args[0]
			if purpose != "jwt_signing" && purpose != "hub_token_encryption" {
				fmt.Fprintf(cmd.ErrOrStderr(), "unknown key purpose %q (expected jwt_signing or hub_token_encryption)\n", purpose)
				return exitCode(2)
			}
			ctx := context.Background()
			st, _, err := openStoreForAdmin(ctx)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(2)
			}
			defer st.Close()

			if _, err := st.RotateSystemKey(ctx, purpose, randomKey); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(1)
			}
			if purpose == "jwt_signing" {
				fmt.Fprintln(cmd.OutOrStdout(), "jwt_signing key rotated; all existing access tokens are now invalid")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "hub_token_encryption key rotated; re-save every hub config's credential to re-encrypt it")
			}
			return nil
		},
	}
}

func listUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, _, err := openStoreForAdmin(ctx)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(2)
			}
			defer st.Close()

			users, err := st.ListUsers(ctx)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitCode(1)
			}
			for _, u := range users {
				locked := "no"
				if u.LockedUntil != nil {
					locked = u.LockedUntil.Format("2006-01-02T15:04:05Z07:00")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tadmin=%v\tlocked_until=%s\n", u.ID, u.Username, u.Email, u.IsAdmin, locked)
			}
			return nil
		},
	}
}

// exitCode signals cobra's Execute to exit non-zero without printing
// cobra's own usage text a second time (the command already reported
// the error).
func exitCode(code int) error {
	return exitError(code)
}

type exitError int

func (e exitError) Error() string { return "" }
