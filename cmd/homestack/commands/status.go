package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/config"
	"github.com/homestack/homestack/pkg/transports/ssh"
)

func newStatusCommand() *cobra.Command {
	var hostsOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect the current state of every declared unit",
		Long: `Ask each unit's backend what it observes right now: absent, starting,
running, healthy, or unhealthy. Nothing is changed.

With --host the stack's SSH hosts are checked instead: each referenced
host is dialed and health-checked, and the connection details are
printed.`,
		Example: `  # Show unit states
  homestack status

  # Check SSH connectivity to the stack's hosts
  homestack status --host`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}

			if hostsOnly {
				return printHostStatus(cmd.Context(), m)
			}

			router, closeBackends, err := buildRouter(ctx, m)
			if err != nil {
				return err
			}
			defer closeBackends()

			rows := make([]statusRow, 0, len(m.Units))
			for i := range m.Units {
				unit := &m.Units[i]
				row := statusRow{Name: unit.Name, Backend: unit.Backend, Host: unit.Host}
				if row.Backend == "" {
					row.Backend = config.BackendDocker
				}
				obs, err := router.Inspect(ctx, unit.Name)
				if err != nil {
					row.State = "unknown"
					row.Detail = err.Error()
				} else {
					row.State = string(obs.State)
					row.Detail = obs.Detail
				}
				rows = append(rows, row)
			}

			if jsonOutput {
				return printJSON(rows)
			}
			printStatusRows(rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hostsOnly, "host", false, "check SSH connectivity to the stack's hosts")

	return cmd
}

// statusRow is one unit in status output.
type statusRow struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	Host    string `json:"host,omitempty"`
	State   string `json:"state"`
	Detail  string `json:"detail,omitempty"`
}

func printStatusRows(rows []statusRow) {
	w := newTable()
	fmt.Fprintln(w, "UNIT\tBACKEND\tSTATE\tDETAIL")
	for _, row := range rows {
		backend := row.Backend
		if row.Host != "" {
			backend += "@" + row.Host
		}
		detail := row.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Name, backend, row.State, detail)
	}
	w.Flush()
}

// hostStatusRow is one SSH host in status --host output.
type hostStatusRow struct {
	Host    string `json:"host"`
	Address string `json:"address"`
	User    string `json:"user"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// printHostStatus dials every referenced host and reports whether the
// connection answers a health check.
func printHostStatus(ctx context.Context, m *config.Manifest) error {
	hosts := m.ReferencedHosts()
	if len(hosts) == 0 {
		fmt.Println("No units use the host backend.")
		return nil
	}

	rows := make([]hostStatusRow, 0, len(hosts))
	for _, name := range hosts {
		hostCfg, ok := m.Stack.Hosts[name]
		if !ok {
			rows = append(rows, hostStatusRow{Host: name, Status: "unknown", Error: "host not defined in stack"})
			continue
		}

		port := hostCfg.Port
		if port == 0 {
			port = 22
		}
		row := hostStatusRow{
			Host:    name,
			Address: fmt.Sprintf("%s:%d", hostCfg.Address, port),
			User:    hostCfg.User,
		}
		client, err := ssh.NewSSHClient(hostCfg.SSHConfig())
		if err != nil {
			row.Status = "error"
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}
		if err := client.Connect(ctx); err != nil {
			row.Status = "unreachable"
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}
		if err := client.HealthCheck(ctx); err != nil {
			row.Status = "unhealthy"
			row.Error = err.Error()
		} else {
			info := client.GetConnectionInfo()
			row.Address = fmt.Sprintf("%s:%d", info.Host, info.Port)
			row.User = info.User
			row.Status = "ok"
		}
		client.Disconnect()
		rows = append(rows, row)
	}

	if jsonOutput {
		return printJSON(rows)
	}

	w := newTable()
	fmt.Fprintln(w, "HOST\tADDRESS\tUSER\tSTATUS\tERROR")
	for _, row := range rows {
		errText := row.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Host, row.Address, row.User, row.Status, errText)
	}
	w.Flush()
	return nil
}
