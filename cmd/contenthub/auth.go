package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"contenthub.org/internal/session"
)

func authCommands() []*cobra.Command {
	var email, password string
	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(cmd, password)
			if err != nil {
				return err
			}
			user, err := app.session.Login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "Signed in as %s\n", user.Email)
			return nil
		},
	}
	login.Flags().StringVar(&email, "email", "", "account email")
	login.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = login.MarkFlagRequired("email")

	var reg session.RegisterRequest
	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(cmd, reg.Password)
			if err != nil {
				return err
			}
			req := reg
			req.Password = pw
			user, err := app.session.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "Welcome, %s\n", firstNonEmpty(user.DisplayName, user.Username, user.Email))
			return nil
		},
	}
	register.Flags().StringVar(&reg.Email, "email", "", "account email")
	register.Flags().StringVar(&reg.Password, "password", "", "account password (prompted when empty)")
	register.Flags().StringVar(&reg.Username, "username", "", "public handle")
	register.Flags().StringVar(&reg.DisplayName, "display-name", "", "display name")
	_ = register.MarkFlagRequired("email")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and forget local credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "Signed out")
			return nil
		},
	}

	var sync bool
	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := app.session.Session()
			if !s.Authenticated() {
				return errors.New("not signed in")
			}
			user := s.User
			if sync {
				u, err := app.session.RefreshProfile(cmd.Context())
				if err != nil {
					return err
				}
				user = u
			}
			if user != nil {
				fmt.Fprintf(app.out, "%s <%s> id=%s", firstNonEmpty(user.DisplayName, user.Username), user.Email, user.ID)
				if user.Role != "" {
					fmt.Fprintf(app.out, " role=%s", user.Role)
				}
				fmt.Fprintln(app.out)
			}
			if exp, ok := s.AccessExpiresAt(); ok {
				fmt.Fprintf(app.out, "access token expires %s (in %s)\n",
					exp.Local().Format(time.RFC3339), time.Until(exp).Round(time.Second))
			}
			if s.Elevated {
				fmt.Fprintln(app.out, "elevated privileges: on")
			}
			return nil
		},
	}
	whoami.Flags().BoolVar(&sync, "sync", false, "reload the profile from the server")

	resetPassword := &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Ask the server to mail a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.session.RequestPasswordReset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "If the address is registered, a reset link is on its way.")
			return nil
		},
	}

	var displayName, bio, avatar string
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Update profile fields",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patch session.ProfilePatch
			if cmd.Flags().Changed("display-name") {
				patch.DisplayName = &displayName
			}
			if cmd.Flags().Changed("bio") {
				patch.Bio = &bio
			}
			if cmd.Flags().Changed("avatar-url") {
				patch.AvatarURL = &avatar
			}
			user, err := app.session.UpdateProfile(cmd.Context(), patch)
			if err != nil {
				return err
			}
			return printJSON(app.out, user)
		},
	}
	profile.Flags().StringVar(&displayName, "display-name", "", "display name")
	profile.Flags().StringVar(&bio, "bio", "", "short biography")
	profile.Flags().StringVar(&avatar, "avatar-url", "", "avatar image URL")

	return []*cobra.Command{login, register, logout, whoami, resetPassword, profile}
}

// passwordOrPrompt reads one line from stdin when no password flag was given.
func passwordOrPrompt(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
