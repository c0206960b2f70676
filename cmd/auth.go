package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"github.com/takutakahashi/portalgate/pkg/client"
	"github.com/takutakahashi/portalgate/pkg/routing"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Width(10)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// promptCredentials asks for whichever of username and password is empty
var promptCredentials = func(username, password *string) error {
	var fields []huh.Field
	if *username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(username).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("username is required")
				}
				return nil
			}))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func newLoginCmd(o *rootOptions) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		Long: `Sign in with a username and password. Missing values are prompted for.
The issued tokens are stored in the profile's token store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				if err := promptCredentials(&username, &password); err != nil {
					return fmt.Errorf("failed to read credentials: %w", err)
				}
			}

			rt, err := o.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			user, err := rt.controller.Login(cmd.Context(), strings.TrimSpace(username), password)
			if errors.Is(err, client.ErrInvalidCredentials) {
				return errors.New("login failed: invalid username or password")
			}
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			printf(cmd, "Logged in as %s (%s)\n", user.Username, user.Role)
			printf(cmd, "Dashboard: %s\n", rt.table.Resolve(rt.lastNavigation(), rt.controller).Target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := o.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			rt.controller.Logout(cmd.Context())
			printf(cmd, "Logged out, sign in again at %s\n", rt.lastNavigation())
			return nil
		},
	}
}

func newWhoamiCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := o.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			state, err := rt.controller.CheckSession(cmd.Context())
			if err != nil {
				return fmt.Errorf("session is no longer valid, run portalgate login: %w", err)
			}
			if !state.Authenticated() {
				printf(cmd, "%s\n", mutedStyle.Render("Not logged in"))
				return nil
			}

			printf(cmd, "%s\n", renderUser(state.User))
			return nil
		},
	}
}

func renderUser(u *entities.User) string {
	rows := []string{titleStyle.Render(u.Username)}
	add := func(label, value string) {
		if value == "" {
			return
		}
		rows = append(rows, labelStyle.Render(label)+valueStyle.Render(value))
	}
	add("ID", u.ID)
	add("Name", u.FullName())
	add("Email", u.Email)
	add("Role", u.Role.String())
	add("Dashboard", routing.DashboardPath(u.Role))
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func newRegisterCmd(o *rootOptions) *cobra.Command {
	var req client.RegisterRequest
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a portal account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := entities.ParseRole(role)
			if err != nil {
				return err
			}
			req.Role = parsed

			rt, err := o.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			user, err := rt.client.Register(cmd.Context(), req)
			var httpErr *client.HTTPError
			if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
				return fmt.Errorf("registration rejected: %s", strings.TrimSpace(string(httpErr.Body)))
			}
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}

			printf(cmd, "Registered %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Password")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&role, "role", string(entities.RoleStudent), "One of student, teacher, mentor, admin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
