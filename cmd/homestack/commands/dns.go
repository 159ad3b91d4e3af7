package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/config"
	"github.com/homestack/homestack/pkg/edge"
)

func newDNSCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Manage the stack's DNS records at the edge",
		Long: `Work with the DNS records the manifest declares: sync them against
the edge provider or list what the zone currently holds.

Records the manifest does not name are never modified or deleted.`,
	}

	cmd.AddCommand(newDNSSyncCommand())
	cmd.AddCommand(newDNSListCommand())

	return cmd
}

// edgeClient builds a client from the manifest's edge settings.
func edgeClient(m *config.Manifest) (*edge.Client, string, error) {
	if !m.Stack.Edge.Enabled() {
		return nil, "", fmt.Errorf("stack %s has no edge endpoint configured", m.Stack.Name)
	}
	if m.Stack.Edge.Zone == "" {
		return nil, "", fmt.Errorf("stack %s has no edge zone configured", m.Stack.Name)
	}
	return edge.NewClient(m.Stack.Edge.Endpoint, m.Stack.Edge.Token), m.Stack.Edge.Zone, nil
}

func newDNSSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync every declared DNS record to the edge",
		Long: `Push all DNS records declared in the manifest to the edge provider,
regardless of unit state. Existing matching records are updated in
place; records the manifest does not declare are left alone.`,
		Example: `  homestack dns sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}
			client, zone, err := edgeClient(m)
			if err != nil {
				return err
			}

			var desired []config.DNSRecordConfig
			for i := range m.Units {
				desired = append(desired, m.Units[i].DNS...)
			}
			if len(desired) == 0 {
				fmt.Println("No DNS records declared.")
				return nil
			}

			result, err := client.Sync(ctx, zone, edgeRecords(desired))
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}
			fmt.Printf("✓ Zone %s synced: %d created, %d updated, %d unchanged\n",
				zone, len(result.Created), len(result.Updated), len(result.Unchanged))
			return nil
		},
	}

	return cmd
}

func newDNSListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the zone's current records",
		Example: `  homestack dns list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}
			client, zone, err := edgeClient(m)
			if err != nil {
				return err
			}

			records, err := client.ListRecords(ctx, zone)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(records)
			}

			if len(records) == 0 {
				fmt.Printf("Zone %s has no records.\n", zone)
				return nil
			}

			w := newTable()
			fmt.Fprintln(w, "NAME\tTYPE\tVALUE\tPROXIED\tTTL")
			for _, r := range records {
				ttl := "auto"
				if r.TTL > 0 {
					ttl = fmt.Sprintf("%d", r.TTL)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", r.Name, r.Type, r.Value, r.Proxied, ttl)
			}
			return w.Flush()
		},
	}

	return cmd
}
