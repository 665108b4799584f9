package main

import (
	"github.com/spf13/cobra"
)

// buildRoot creates the command tree. The root command itself launches a
// profile by name; anything after the name is passed to the program.
func buildRoot(c *command) *cobra.Command {
	g := c.global
	root := &cobra.Command{
		Use:   "affinity <profile> [args...]",
		Short: "Launch programs with a fixed CPU affinity and priority",
		Long: `Affinity launches a program, pins it to a set of CPU cores and sets its
scheduling priority. Launchers that hand off to a child process are followed,
and the settings are verified and re-applied until they stick.

Examples:
  affinity game                       # launch saved profile "game"
  affinity game --windowed            # extra arguments go to the program
  affinity add --name game --path /opt/game/run --cpus 2-5 --priority high
  affinity exec --path /usr/bin/make --cpus 0,1 -- -j2`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && g.Transient == "" {
				return cmd.Help()
			}
			name := ""
			if len(args) > 0 {
				name, args = args[0], args[1:]
			}
			return c.Launch(cmd.Context(), name, args)
		},
	}
	// flags belong to affinity up to the profile name, the rest to the program
	root.Flags().SetInterspersed(false)

	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "path to config file (optional)")
	root.PersistentFlags().BoolVar(&g.Pause, "pause", false, "wait for Enter before exiting on failure")
	root.Flags().BoolVar(&g.Elevated, "elevated", false, "")
	root.Flags().StringVar(&g.Transient, "transient", "", "")
	_ = root.Flags().MarkHidden("elevated")
	_ = root.Flags().MarkHidden("transient")

	root.AddCommand(
		createExecCommand(c),
		createAddCommand(c),
		createListCommand(c),
		createShowCommand(c),
		createDeleteCommand(c),
		createShortcutCommand(c),
		createHistoryCommand(c),
	)
	return root
}

func bindProfileFlags(cmd *cobra.Command, f *ProfileFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "profile name")
	cmd.Flags().StringVar(&f.Path, "path", "", "path of the program to launch")
	cmd.Flags().StringVar(&f.CPUs, "cpus", "", "cores to pin to, e.g. 0,2,4-7 (empty for all)")
	cmd.Flags().StringVar(&f.Priority, "priority", "normal", "idle, below_normal, normal, above_normal, high or realtime")
	cmd.Flags().IntVar(&f.Retries, "retries", 0, "apply attempts before giving up (default 5)")
	cmd.Flags().StringVar(&f.Successor, "successor", "", "executable name of the process the launcher hands off to")
}

func createExecCommand(c *command) *cobra.Command {
	f := &ProfileFlags{}
	cmd := &cobra.Command{
		Use:   "exec --path <program> [flags] [-- args...]",
		Short: "Launch a program without a saved profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Args = args
			return c.Exec(cmd.Context(), *f)
		},
	}
	bindProfileFlags(cmd, f)
	return cmd
}

func createAddCommand(c *command) *cobra.Command {
	f := &AddFlags{}
	cmd := &cobra.Command{
		Use:   "add --name <profile> --path <program> [flags] [-- args...]",
		Short: "Save a profile",
		Long: `Save a profile. Arguments after -- are stored with the profile and passed
to the program before any arguments given at launch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Args = args
			return c.Add(*f)
		},
	}
	bindProfileFlags(cmd, &f.ProfileFlags)
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing profile")
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List()
		},
	}
}

func createShowCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Print a saved profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Show(args[0])
		},
	}
}

func createDeleteCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <profile>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Delete(args[0])
		},
	}
}

func createShortcutCommand(c *command) *cobra.Command {
	f := &ShortcutFlags{}
	cmd := &cobra.Command{
		Use:   "shortcut <profile>",
		Short: "Create a desktop shortcut that launches a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Shortcut(args[0], *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "directory to write the shortcut to (default: the desktop)")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing shortcut")
	return cmd
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "number of launches to show (0 for all)")
	return cmd
}
