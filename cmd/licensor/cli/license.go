package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "license",
		Aliases: []string{"lic"},
		Short:   "Administer licenses directly against the configured store",
		Long: `Issue, inspect, renew, upgrade and revoke licenses without going through the
HTTP API. Commands open the license store named in licensor.yaml and record
every change in the usage log as the local operator ("cli:<user>").`,
	}

	cmd.AddCommand(newLicenseCreateCmd())
	cmd.AddCommand(newLicenseBulkCmd())
	cmd.AddCommand(newLicenseRenewCmd())
	cmd.AddCommand(newLicenseUpgradeCmd())
	cmd.AddCommand(newLicenseRevokeCmd())
	cmd.AddCommand(newLicenseShowCmd())
	cmd.AddCommand(newLicenseListCmd())
	cmd.AddCommand(newLicenseStatsCmd())
	cmd.AddCommand(newLicenseHistoryCmd())

	return cmd
}

// withEngine opens the stores, runs fn as the local operator and flushes the
// usage log before returning.
func withEngine(fn func(ctx context.Context, engine *license.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep CLI output clean unless debug logging was asked for.
	logCfg := config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		logCfg.Level = "debug"
	}
	logger := newLogger(logCfg, false)

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(license.WithCaller(ctx, cliCaller()), a.engine)
}

// outcomeError turns a non-OK engine result into a CLI error.
func outcomeError(res license.Result, message string) error {
	st := res.Outcome()
	if st == license.StatusOK {
		return nil
	}
	if message == "" {
		return fmt.Errorf("%s", st)
	}
	return fmt.Errorf("%s: %s", st, message)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------- license create ----------

func newLicenseCreateCmd() *cobra.Command {
	var (
		req        license.CreateRequest
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create [key]",
		Short: "Issue a new unbound license",
		Long:  "Issue one license. Without a key argument a random key is generated.",
		Example: `  licensor license create --edition PRO --days 365 --email buyer@example.com
  licensor license create ACME-0001 --edition ENTERPRISE --days 730`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.LicenseKey = args[0]
			}
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.Create(ctx, req)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res.License)
				}
				printLicense(res.License)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Edition, "edition", string(model.EditionBasic), "Edition: BASIC, PRO or ENTERPRISE")
	cmd.Flags().IntVar(&req.ExpiryDays, "days", 365, "Validity in days from today")
	cmd.Flags().StringVar(&req.UserEmail, "email", "", "Owner's email address")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Free-form notes")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license bulk ----------

func newLicenseBulkCmd() *cobra.Command {
	var (
		req        license.BulkGenerateRequest
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Generate many licenses at once",
		Long: `Generate --count unbound licenses with random keys in one all-or-nothing
batch. Keys are printed one per line, or written to --output.`,
		Example: `  licensor license bulk --count 500 --edition BASIC --days 365 --prefix SPRING
  licensor license bulk --count 10000 --edition PRO --days 30 -o keys.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.BulkGenerate(ctx, req)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				out := strings.Join(res.Keys, "\n") + "\n"
				if outputFile == "" {
					fmt.Print(out)
					return nil
				}
				if err := os.WriteFile(outputFile, []byte(out), 0600); err != nil {
					return fmt.Errorf("write keys: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Wrote %d keys to %s\n", len(res.Keys), outputFile)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&req.Count, "count", 0, "Number of licenses to generate (required)")
	cmd.Flags().StringVar(&req.Edition, "edition", string(model.EditionBasic), "Edition: BASIC, PRO or ENTERPRISE")
	cmd.Flags().IntVar(&req.ExpiryDays, "days", 365, "Validity in days from today")
	cmd.Flags().StringVar(&req.KeyPrefix, "prefix", "", "Alphanumeric key prefix (max 16 chars)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write keys to file instead of stdout")
	cmd.MarkFlagRequired("count")

	return cmd
}

// ---------- license renew ----------

func newLicenseRenewCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "renew <key>",
		Short: "Extend a license's validity",
		Long:  "Add days to a license. Expired licenses are renewed from today.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := license.RenewRequest{LicenseKey: args[0]}
			if cmd.Flags().Changed("days") {
				req.ExtensionDays = &days
			}
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.Renew(ctx, req)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				fmt.Printf("Renewed %s until %s (revision %d)\n", req.LicenseKey, res.NewExpiry, res.ServerRevision)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", license.DefaultExtensionDays, "Days to add")

	return cmd
}

// ---------- license upgrade ----------

func newLicenseUpgradeCmd() *cobra.Command {
	var edition string

	cmd := &cobra.Command{
		Use:   "upgrade <key>",
		Short: "Change a license's edition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := license.UpgradeRequest{LicenseKey: args[0], NewEdition: edition}
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.Upgrade(ctx, req)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				fmt.Printf("%s is now %s (revision %d)\n", req.LicenseKey, res.Edition, res.ServerRevision)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&edition, "edition", "", "Target edition: BASIC, PRO or ENTERPRISE (required)")
	cmd.MarkFlagRequired("edition")

	return cmd
}

// ---------- license revoke ----------

func newLicenseRevokeCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <key>",
		Short: "Permanently revoke a license",
		Long:  "Revoke a license. This cannot be undone; clients learn of it on their next sync.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := license.RevokeRequest{LicenseKey: args[0], Reason: reason}
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.Revoke(ctx, req)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", req.LicenseKey)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the license is revoked")

	return cmd
}

// ---------- license show ----------

func newLicenseShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "show <key>",
		Aliases: []string{"get"},
		Short:   "Show one license",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.Get(ctx, args[0])
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res.License)
				}
				printLicense(res.License)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printLicense(l *model.LicenseSummary) {
	hwid := l.HWID
	if hwid == "" {
		hwid = "(unbound)"
	}
	fmt.Printf("  Key:       %s\n", l.Key)
	fmt.Printf("  Edition:   %s\n", l.Edition)
	fmt.Printf("  Status:    %s\n", l.LicenseStatus)
	fmt.Printf("  Created:   %s\n", l.CreatedAt)
	fmt.Printf("  Expiry:    %s (%d days)\n", l.Expiry, l.ExpiryDays)
	fmt.Printf("  HWID:      %s\n", hwid)
	fmt.Printf("  Revision:  %d\n", l.ServerRevision)
	if l.LastSeen != nil {
		fmt.Printf("  Last seen: %s\n", l.LastSeen.UTC().Format(time.RFC3339))
	}
	if l.OwnerEmail != "" {
		fmt.Printf("  Owner:     %s\n", l.OwnerEmail)
	}
	if l.Notes != "" {
		fmt.Printf("  Notes:     %s\n", l.Notes)
	}
	if l.RevokeReason != "" {
		fmt.Printf("  Revoked:   %s\n", l.RevokeReason)
	}
}

// ---------- license list ----------

func newLicenseListCmd() *cobra.Command {
	var (
		req        license.ListRequest
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List licenses ordered by key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.List(ctx, req)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				if len(res.Licenses) == 0 {
					fmt.Println("No licenses found. Use 'licensor license create' to issue one.")
					return nil
				}

				fmt.Printf("%-28s %-11s %-8s %-11s %-5s %s\n", "KEY", "EDITION", "STATUS", "EXPIRY", "REV", "HWID")
				fmt.Printf("%-28s %-11s %-8s %-11s %-5s %s\n", "---", "-------", "------", "------", "---", "----")
				for _, l := range res.Licenses {
					hwid := l.HWID
					if hwid == "" {
						hwid = "-"
					}
					fmt.Printf("%-28s %-11s %-8s %-11s %-5d %s\n", l.Key, l.Edition, l.LicenseStatus, l.Expiry, l.ServerRevision, hwid)
				}
				if res.Meta != nil && res.Meta.Total != nil {
					fmt.Printf("\nShowing %d of %d (offset %d)\n", len(res.Licenses), *res.Meta.Total, req.Offset)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&req.Offset, "offset", 0, "Number of licenses to skip")
	cmd.Flags().IntVar(&req.Limit, "limit", 100, "Maximum number of licenses to show (max 1000)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license stats ----------

func newLicenseStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the license population",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.Statistics(ctx)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res.Statistics)
				}
				st := res.Statistics
				fmt.Printf("Licenses:  %d total\n", st.Total)
				fmt.Printf("  active:  %d\n", st.Active)
				fmt.Printf("  expired: %d\n", st.Expired)
				fmt.Printf("  revoked: %d\n", st.Revoked)
				fmt.Printf("Binding:   %d bound, %d unbound\n", st.Bound, st.Unbound)
				fmt.Println("Editions:")
				editions := make([]string, 0, len(st.ByEdition))
				for ed := range st.ByEdition {
					editions = append(editions, string(ed))
				}
				sort.Strings(editions)
				for _, ed := range editions {
					fmt.Printf("  %-11s %d\n", ed, st.ByEdition[model.Edition(ed)])
				}
				fmt.Printf("Expiring:  %d within 7 days, %d within 30 days\n", st.ExpiringIn7d, st.ExpiringIn30d)
				fmt.Printf("As of:     %s\n", st.GeneratedAt)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license history ----------

func newLicenseHistoryCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "history <key>",
		Aliases: []string{"usage"},
		Short:   "Show a license's usage log, newest first",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *license.Engine) error {
				res := e.History(ctx, args[0], limit)
				if err := outcomeError(res, res.Message); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res.Entries)
				}
				if len(res.Entries) == 0 {
					fmt.Println("No usage recorded.")
					return nil
				}

				fmt.Printf("%-20s %-9s %-16s %-9s %s\n", "TIME", "ACTION", "OUTCOME", "REVISION", "ACTOR")
				fmt.Printf("%-20s %-9s %-16s %-9s %s\n", "----", "------", "-------", "--------", "-----")
				for _, u := range res.Entries {
					actor := u.Actor.Identity
					if u.Actor.IP != "" {
						actor += " (" + u.Actor.IP + ")"
					}
					rev := fmt.Sprintf("%d→%d", u.RevisionBefore, u.RevisionAfter)
					fmt.Printf("%-20s %-9s %-16s %-9s %s\n",
						u.CreatedAt.UTC().Format("2006-01-02 15:04:05"), u.Action, u.Outcome, rev, actor)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", license.DefaultHistoryLimit, "Maximum number of entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
