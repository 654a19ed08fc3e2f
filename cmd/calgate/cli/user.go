package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage gateway users",
		Long:  "Create and list the end users who connect calendar accounts and hold API keys.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  calgate user create --email alice@example.com --name "Alice"
  calgate user create --email ops@example.com --admin  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, admin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant dashboard admin access")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, name string, admin bool) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	// Prompt for password if not provided
	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      admin,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q (id %s)\n", email, user.ID)
	if admin {
		fmt.Println("  Dashboard admin access granted.")
	}
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	type userRow struct {
		ID     string `json:"id"`
		Email  string `json:"email"`
		Name   string `json:"name"`
		Admin  bool   `json:"admin"`
		Active bool   `json:"active"`
	}

	rows := make([]userRow, len(users))
	for i, u := range users {
		rows[i] = userRow{
			ID:     u.ID,
			Email:  u.Email,
			Name:   u.Name,
			Admin:  u.IsAdmin,
			Active: u.IsActive,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No users configured. Use 'calgate user create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-30s %-20s %-6s %-8s\n", "ID", "EMAIL", "NAME", "ADMIN", "ACTIVE")
	fmt.Printf("%-38s %-30s %-20s %-6s %-8s\n", "--", "-----", "----", "-----", "------")
	for _, u := range rows {
		admin, active := "no", "yes"
		if u.Admin {
			admin = "yes"
		}
		if !u.Active {
			active = "no"
		}
		fmt.Printf("%-38s %-30s %-20s %-6s %-8s\n", u.ID, u.Email, u.Name, admin, active)
	}

	return nil
}
