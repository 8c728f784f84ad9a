package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage RBAC roles",
		Long:  "Create, list and delete roles that define which license operations API keys may call.",
	}

	cmd.AddCommand(newRoleListCmd())
	cmd.AddCommand(newRoleCreateCmd())
	cmd.AddCommand(newRoleDeleteCmd())

	return cmd
}

// ---------- role list ----------

func newRoleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runRoleList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	roles, err := store.ListRoles(context.Background())
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}

	if jsonOutput {
		return printJSON(roles)
	}

	if len(roles) == 0 {
		fmt.Println("No roles configured. Use 'licensor role create' to create one.")
		return nil
	}

	fmt.Printf("%-20s %-32s %-8s %s\n", "NAME", "DESCRIPTION", "ACTIVE", "OPERATIONS")
	fmt.Printf("%-20s %-32s %-8s %s\n", "----", "-----------", "------", "----------")
	for _, r := range roles {
		active := "yes"
		if !r.IsActive {
			active = "no"
		}
		desc := r.Description
		if len(desc) > 30 {
			desc = desc[:27] + "..."
		}
		fmt.Printf("%-20s %-32s %-8s %s\n", r.Name, desc, active, formatOperations(r.Operations))
	}

	return nil
}

// formatOperations renders a role's operations for display.
func formatOperations(ops []string) string {
	if len(ops) == 0 {
		return "none"
	}
	for _, op := range ops {
		if op == model.OperationAll {
			return "all"
		}
	}
	return strings.Join(ops, ",")
}

// ---------- role create ----------

func newRoleCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		operations  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new role",
		Long: fmt.Sprintf(`Create a role granting a set of license operations. Use "*" for all of them.

Operations: %s`, operationNames()),
		Example: `  licensor role create --name storefront --operations create,bulk_generate,get
  licensor role create --name support --operations renew,upgrade,get,history
  licensor role create --name ops --operations '*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleCreate(name, description, operations)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Role name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Role description")
	cmd.Flags().StringSliceVar(&operations, "operations", nil, "Comma-separated operations the role allows (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("operations")

	return cmd
}

func operationNames() string {
	names := make([]string, len(license.AdminOperations))
	for i, op := range license.AdminOperations {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}

// normalizeOperations trims and lowercases ops and rejects unknown names.
func normalizeOperations(ops []string) ([]string, error) {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		op = strings.ToLower(strings.TrimSpace(op))
		if op == "" {
			continue
		}
		if op != model.OperationAll && !license.Operation(op).IsAdmin() {
			return nil, fmt.Errorf("unknown operation %q (valid: %s or *)", op, operationNames())
		}
		out = append(out, op)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one operation is required")
	}
	return out, nil
}

func runRoleCreate(name, description string, operations []string) error {
	ops, err := normalizeOperations(operations)
	if err != nil {
		return err
	}

	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	role := &model.Role{
		Name:        name,
		Description: description,
		IsActive:    true,
		Operations:  ops,
	}

	if err := store.CreateRole(context.Background(), role); err != nil {
		return fmt.Errorf("create role: %w", err)
	}

	fmt.Printf("Created role %q (id=%d)\n", name, role.ID)
	fmt.Printf("  operations: %s\n", formatOperations(role.Operations))
	if description != "" {
		fmt.Printf("  description: %s\n", description)
	}
	return nil
}

// ---------- role delete ----------

func newRoleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a role",
		Long:    "Delete a role. Fails while any API key, active or revoked, is still bound to it.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleDelete(args[0])
		},
	}
}

func runRoleDelete(name string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	role, err := store.GetRoleByName(ctx, name)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Errorf("role %q not found", name)
	}
	if err != nil {
		return fmt.Errorf("get role: %w", err)
	}

	if err := store.DeleteRole(ctx, role.ID); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	fmt.Printf("Deleted role %q\n", name)
	return nil
}
