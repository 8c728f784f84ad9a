package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/handler"
	"github.com/faucetdb/licensor/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, list, and revoke API keys. A key is bound to one role and may call
the license operations that role allows.`,
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		role    string
		label   string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key bound to a role. The raw key is shown once and cannot be retrieved again.",
		Example: `  licensor key create --role storefront --label "checkout service"
  licensor key create --role support --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(role, label, expires)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Role to bind the key to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Key lifetime, e.g. 720h (default: never expires)")
	cmd.MarkFlagRequired("role")

	return cmd
}

func runKeyCreate(roleName, label string, expires time.Duration) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	role, err := store.GetRoleByName(ctx, roleName)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Errorf("role %q not found (create it with 'licensor role create')", roleName)
	}
	if err != nil {
		return fmt.Errorf("get role: %w", err)
	}

	rawKey, prefix, err := handler.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}

	apiKey := &model.APIKey{
		KeyHash:   config.HashAPIKey(rawKey),
		KeyPrefix: prefix,
		Label:     label,
		RoleID:    role.ID,
		IsActive:  true,
		CreatedBy: cliCaller().Identity,
	}
	if expires > 0 {
		at := time.Now().UTC().Add(expires)
		apiKey.ExpiresAt = &at
	}

	if err := store.CreateAPIKey(ctx, apiKey); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:        %s\n", rawKey)
	fmt.Printf("  Role:       %s (%s)\n", role.Name, formatOperations(role.Operations))
	if label != "" {
		fmt.Printf("  Label:      %s\n", label)
	}
	if apiKey.ExpiresAt != nil {
		fmt.Printf("  Expires:    %s\n", apiKey.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type keyRow struct {
	Prefix   string     `json:"prefix"`
	Role     string     `json:"role"`
	Label    string     `json:"label"`
	Active   bool       `json:"active"`
	Expires  *time.Time `json:"expires_at,omitempty"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

func runKeyList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	roles, err := store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	roleNames := make(map[int64]string, len(roles))
	for _, r := range roles {
		roleNames[r.ID] = r.Name
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rn := roleNames[k.RoleID]
		if rn == "" {
			rn = fmt.Sprintf("role:%d", k.RoleID)
		}
		rows[i] = keyRow{
			Prefix:   k.KeyPrefix,
			Role:     rn,
			Label:    k.Label,
			Active:   k.IsActive,
			Expires:  k.ExpiresAt,
			LastUsed: k.LastUsed,
		}
	}

	if jsonOutput {
		return printJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'licensor key create' to create one.")
		return nil
	}

	fmt.Printf("%-14s %-16s %-24s %-8s %-20s\n", "PREFIX", "ROLE", "LABEL", "ACTIVE", "LAST USED")
	fmt.Printf("%-14s %-16s %-24s %-8s %-20s\n", "------", "----", "-----", "------", "---------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		} else if k.Expires != nil && k.Expires.Before(time.Now()) {
			active = "expired"
		}
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.UTC().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-14s %-16s %-24s %-8s %-20s\n", k.Prefix, k.Role, k.Label, active, lastUsed)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(prefix string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	err = store.RevokeAPIKeyByPrefix(context.Background(), prefix)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Errorf("no active API key found with prefix %q", prefix)
	}
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", prefix)
	return nil
}
