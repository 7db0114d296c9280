// Package cli provides the tenantctl administrative commands as a cobra
// command tree. Host applications mount it over their bootstrapped kernel;
// cmd/tenantctl is the standalone wiring.
package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RahulRimal/omnitenant/bootstrap"
	"github.com/RahulRimal/omnitenant/orchestrator"
	"github.com/RahulRimal/omnitenant/tenant"
)

// New builds the tenantctl root command over a bootstrapped kernel.
func New(k *bootstrap.Kernel) *cobra.Command {
	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Administer omnitenant tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCreateCmd(k))
	root.AddCommand(newDeleteCmd(k))
	root.AddCommand(newMigrateCmd(k))
	root.AddCommand(newListCmd(k))
	root.AddCommand(newResetCmd(k))
	return root
}

func newCreateCmd(k *bootstrap.Kernel) *cobra.Command {
	var (
		name          string
		isolationType string
		configJSON    string
		runMigrations bool
	)

	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create and provision a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isolation, err := tenant.ParseIsolationType(isolationType)
			if err != nil {
				return err
			}

			t := &tenant.Tenant{
				TenantID:      args[0],
				Name:          name,
				IsolationType: isolation,
			}
			if t.Name == "" {
				t.Name = t.TenantID
			}
			if configJSON != "" {
				var cfg tenant.JSONMap
				if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
					return fmt.Errorf("invalid --config JSON: %w", err)
				}
				t.Config = cfg
			}

			if err := k.Orchestrator.CreateTenant(cmd.Context(), t, runMigrations); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %q created.\n", t.TenantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the tenant id)")
	cmd.Flags().StringVar(&isolationType, "isolation-type", "DATABASE", "isolation strategy: database, schema or table")
	cmd.Flags().StringVar(&configJSON, "config", "", "tenant configuration as JSON (e.g. '{\"db_config\":{\"NAME\":\"acme_db\"}}')")
	cmd.Flags().BoolVar(&runMigrations, "migrate", false, "run migrations immediately after provisioning")
	return cmd
}

func newDeleteCmd(k *bootstrap.Kernel) *cobra.Command {
	var drop bool

	cmd := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant, optionally dropping its storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Orchestrator.DeleteTenant(cmd.Context(), args[0], drop); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %q deleted.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&drop, "drop", false, "also drop the tenant's database/schema (irreversible)")
	return cmd
}

func newMigrateCmd(k *bootstrap.Kernel) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "migrate [app] [target]",
		Short: "Run migrations for one tenant or for all tenants",
		Long: "Without --tenant, migrates every tenant; per-tenant failures are " +
			"reported and do not abort the batch. With --tenant, migrates only " +
			"that tenant and fails on error.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var appLabel, target string
			if len(args) > 0 {
				appLabel = args[0]
			}
			if len(args) > 1 {
				target = args[1]
			}

			if tenantID != "" {
				if err := k.Orchestrator.MigrateTenant(cmd.Context(), tenantID, appLabel, target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %q migrated successfully.\n", tenantID)
				return nil
			}

			results, err := k.Orchestrator.MigrateAllTenants(cmd.Context(), appLabel, target)
			if err != nil {
				return err
			}
			reportBatch(cmd, results)
			// Partial failures are reported, not fatal: batch exit is zero.
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "migrate only this tenant")
	return cmd
}

func newResetCmd(k *bootstrap.Kernel) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Unapply all migrations for every app across every tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := k.Orchestrator.ResetAllTenants(cmd.Context())
			if err != nil {
				return err
			}
			reportBatch(cmd, results)
			return nil
		},
	}
}

func newListCmd(k *bootstrap.Kernel) *cobra.Command {
	var (
		isolationType string
		format        string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var isolation tenant.IsolationType
			if isolationType != "" {
				parsed, err := tenant.ParseIsolationType(isolationType)
				if err != nil {
					return err
				}
				isolation = parsed
			}

			tenants, err := k.Orchestrator.ListTenants(cmd.Context(), isolation)
			if err != nil {
				return err
			}
			if len(tenants) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tenants found.")
				return nil
			}

			switch format {
			case "json":
				return outputJSON(cmd, tenants)
			case "csv":
				return outputCSV(cmd, tenants)
			case "table":
				outputTable(cmd, tenants)
				return nil
			}
			return fmt.Errorf("invalid --format %q (valid: table, json, csv)", format)
		},
	}

	cmd.Flags().StringVar(&isolationType, "isolation-type", "", "filter by isolation type (database/schema/table)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or csv")
	return cmd
}

func reportBatch(cmd *cobra.Command, results []orchestrator.MigrationResult) {
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAILED  %s: %v\n", r.TenantID, r.Err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "OK      %s\n", r.TenantID)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tenant(s) processed, %d failed.\n", len(results), failed)
}

func outputTable(cmd *cobra.Command, tenants []tenant.Tenant) {
	out := cmd.OutOrStdout()
	header := fmt.Sprintf("%-20s %-30s %-15s %-20s", "Tenant ID", "Name", "Isolation", "Created")
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, dashes(len(header)))

	for _, t := range tenants {
		fmt.Fprintf(out, "%-20s %-30s %-15s %-20s\n",
			t.TenantID, t.Name, t.IsolationType, t.CreatedAt.Format("2006-01-02 15:04:05"))
		if dbCfg := t.DBConfigMap(); len(dbCfg) > 0 {
			if name, ok := dbCfg["NAME"].(string); ok && name != "" {
				fmt.Fprintf(out, "  └─ Database: %s @ %v:%v\n", name, dbCfg["HOST"], dbCfg["PORT"])
			}
		}
	}
}

func outputJSON(cmd *cobra.Command, tenants []tenant.Tenant) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tenants)
}

func outputCSV(cmd *cobra.Command, tenants []tenant.Tenant) error {
	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.Write([]string{"tenant_id", "name", "isolation_type", "created_at"}); err != nil {
		return err
	}
	for _, t := range tenants {
		record := []string{t.TenantID, t.Name, string(t.IsolationType), t.CreatedAt.Format("2006-01-02T15:04:05Z07:00")}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}

// Execute runs the command tree with conventional exit codes: zero on
// success (including batch runs with partial per-tenant failures), nonzero
// for fatal preconditions.
func Execute(root *cobra.Command) {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
