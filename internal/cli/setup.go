package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cervicel-cytology-server/internal/setup"
)

func newSetupCommand(a *app) *cobra.Command {
	var clientConfig, name string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
		// Client registration does not need the server configuration to be valid.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	cmd.PersistentFlags().StringVar(&clientConfig, "client-config", "", "client config file (default: the desktop client location for this OS)")
	cmd.PersistentFlags().StringVar(&name, "name", setup.DefaultServerName, "server name under mcpServers")

	resolve := func() (string, error) {
		if clientConfig != "" {
			return clientConfig, nil
		}
		return setup.ClientConfigPath()
	}

	var binary, dataDir string
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or update the cervicel stdio server entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			entry, err := setup.Register(path, setup.Options{
				Name:       name,
				BinaryPath: binary,
				ConfigFile: a.configFile,
				DataDir:    dataDir,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s in %s (command %s)\n", name, path, entry.Command)
			return nil
		},
	}
	register.Flags().StringVar(&binary, "binary", "", "cervicel binary to launch (default: this executable)")
	register.Flags().StringVar(&dataDir, "data-dir", "", "directory for the SQLite report archive")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is registered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			st, err := setup.Inspect(path, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client config: %s\n", st.ConfigPath)
			fmt.Fprintf(out, "registered: %t\n", st.Registered)
			if st.Entry != nil {
				fmt.Fprintf(out, "command: %s %v\n", st.Entry.Command, st.Entry.Args)
			}
			for _, issue := range st.Issues {
				fmt.Fprintf(out, "issue: %s\n", issue)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the server entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			removed, err := setup.Unregister(path, name)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not registered\n", name)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", name, path)
			return nil
		},
	}

	cmd.AddCommand(register, status, remove)
	return cmd
}
