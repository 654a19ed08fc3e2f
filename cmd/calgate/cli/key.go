package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calgate/calgate/internal/service"
	"github.com/calgate/calgate/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys users present on the protocol endpoint.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// keyService opens the store and wraps it in a KeyService for CLI use.
func keyService() (*service.KeyService, *store.Store, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewKeyService(st, logger), st, nil
}

// resolveUser finds a user by email.
func resolveUser(ctx context.Context, st *store.Store, email string) (string, error) {
	u, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("user %q not found", email)
	}
	return u.ID, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a user",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  calgate key create --email alice@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(email)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the owning user (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyCreate(email string) error {
	keys, st, err := keyService()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := resolveUser(ctx, st, email)
	if err != nil {
		return err
	}

	gen, err := keys.Generate(ctx, userID)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:   %s\n", gen.Key)
	fmt.Printf("  Owner: %s\n", email)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(email, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the owning user (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyList(email string, jsonOutput bool) error {
	keys, st, err := keyService()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := resolveUser(ctx, st, email)
	if err != nil {
		return err
	}

	list, err := keys.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		ID      int64  `json:"id"`
		Preview string `json:"preview"`
		Active  bool   `json:"active"`
		Usage   int64  `json:"usage_count"`
	}

	rows := make([]keyRow, len(list))
	for i, k := range list {
		rows[i] = keyRow{
			ID:      k.ID,
			Preview: k.KeyPreview,
			Active:  k.IsActive,
			Usage:   k.UsageCount,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys for this user. Use 'calgate key create' to create one.")
		return nil
	}

	fmt.Printf("%-8s %-24s %-8s %-8s\n", "ID", "PREVIEW", "ACTIVE", "USAGE")
	fmt.Printf("%-8s %-24s %-8s %-8s\n", "--", "-------", "------", "-----")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-8d %-24s %-8s %-8d\n", k.ID, k.Preview, active, k.Usage)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke <keyId>",
		Short: "Revoke an API key by ID",
		Long:  "Deactivate one of a user's API keys, preventing any further gateway requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(email, args[0])
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the owning user (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyRevoke(email, idStr string) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key ID: %q", idStr)
	}

	keys, st, err := keyService()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := resolveUser(ctx, st, email)
	if err != nil {
		return err
	}

	ok, err := keys.Revoke(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !ok {
		return fmt.Errorf("no API key %d owned by %q", id, email)
	}

	fmt.Printf("Revoked API key %d\n", id)
	return nil
}
