package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"vfspanel/internal/app"
	"vfspanel/internal/config"
	"vfspanel/internal/encryption"
	"vfspanel/internal/panel"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer closeApp.
// command identifies the CLI command being run (e.g. "mount", "watch").
func newApp(ctx context.Context, command string, session bool) (*app.App, error) {
	defaults := app.GetDefaults()

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	ui := newTerminalUI(os.Stdin, os.Stdout)
	a, err := app.New(ctx, cfg, app.Options{
		Command:  command,
		UI:       ui,
		Notifier: ui,
		Session:  session,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "closing: %v\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vfspanel",
	Short:        "Manage and mount remote file system resources",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()
		cfg := config.NewConfig(defaults["base_dir"])

		if v, _ := cmd.Flags().GetString("vault"); v != "" {
			cfg.Vault.Type = v
		}
		if r, _ := cmd.Flags().GetString("registry"); r != "" {
			cfg.Registry.Type = r
		}
		if b, _ := cmd.Flags().GetString("backend"); b != "" {
			cfg.Backend.Type = b
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		if cfg.Vault.Type == "file" || cfg.Vault.Type == "s3" {
			sealer := encryption.NewAgeSealer(cfg.Vault.IdentityPath)
			if !sealer.IsConfigured() {
				if err := sealer.Setup(); err != nil {
					return fmt.Errorf("creating vault identity: %w", err)
				}
				fmt.Printf("Vault identity: %s\n", cfg.Vault.IdentityPath)
			}
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.Log.Dir)
		fmt.Printf("Registry: %s %s\n", cfg.Registry.Type, cfg.Registry.Path)
		fmt.Printf("Vault:    %s (secrets in vault: %t)\n", cfg.Vault.Type, cfg.UseVaultForSecrets)
		fmt.Printf("Backend:  %s\n", cfg.Backend.Type)
		fmt.Printf("Monitor:  enabled=%t source=%s\n", cfg.Monitor.Enabled, cfg.Monitor.Source)
		fmt.Printf("Unmount all at exit: %t\n", cfg.UnmountAllAtExit)
		return nil
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Add a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "add", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		rec := a.Service().NewRecord()
		rec.URL = args[0]
		if err := readRecordFlags(cmd, rec); err != nil {
			return err
		}
		if err := a.Service().Add(ctx, rec); err != nil {
			a.Fail()
			return fmt.Errorf("adding resource: %w", err)
		}

		fmt.Printf("Added %s\n", rec.DisplayName())
		return nil
	},
}

// edit command
var editCmd = &cobra.Command{
	Use:   "edit URL",
	Short: "Change a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "edit", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		cur, ok := a.Service().Table().Get(args[0])
		if !ok {
			a.Fail()
			return fmt.Errorf("editing %s: %w", args[0], panel.ErrNotFound)
		}
		rec := cur.Clone()
		if u, _ := cmd.Flags().GetString("url"); u != "" {
			rec.URL = u
		}
		if err := readRecordFlags(cmd, rec); err != nil {
			return err
		}
		if err := a.Service().Edit(ctx, args[0], rec); err != nil {
			a.Fail()
			return fmt.Errorf("editing resource: %w", err)
		}

		fmt.Printf("Updated %s\n", rec.DisplayName())
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm URL",
	Short: "Remove a resource, unmounting it first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "rm", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Service().Remove(ctx, args[0]); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List resources and their mount state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ls", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		a.Service().CheckAll(ctx)
		printRecords(a.Service().Table().Snapshot())
		return nil
	},
}

// mount command
var mountCmd = &cobra.Command{
	Use:   "mount URL",
	Short: "Mount a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "mount", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		rec, err := a.Service().Mount(ctx, args[0])
		if err != nil {
			a.Fail()
			return err
		}
		if !rec.IsMounted() {
			fmt.Printf("%s has no mountable scheme\n", rec.DisplayName())
			return nil
		}
		fmt.Printf("Mounted %s at %s\n", rec.DisplayName(), rec.MountedPath)
		return nil
	},
}

// unmount command
var unmountCmd = &cobra.Command{
	Use:   "unmount URL",
	Short: "Unmount a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "unmount", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		a.Service().CheckAll(ctx)
		if err := a.Service().Unmount(ctx, args[0]); err != nil {
			if panel.IsNotMounted(err) {
				fmt.Printf("%s was not mounted\n", args[0])
				return nil
			}
			a.Fail()
			return err
		}
		fmt.Printf("Unmounted %s\n", args[0])
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Refresh the mount state of every resource",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "check", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		found := a.Service().CheckAll(ctx)
		fmt.Printf("%d resource(s) found mounted\n", found)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a panel session that follows external mount changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "watch", true)
		if err != nil {
			return err
		}
		defer closeApp(a)

		a.Service().CheckAll(ctx)
		printRecords(a.Service().Table().Snapshot())
		fmt.Println("Watching for mount changes, press Ctrl-C to exit.")
		<-ctx.Done()
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade stored resources to the current layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "migrate", false)
		if err != nil {
			return err
		}
		defer closeApp(a)

		// Loading the records at startup rewrites older layouts in place.
		version, err := a.Store().Version(ctx)
		if err != nil {
			a.Fail()
			return fmt.Errorf("reading store version: %w", err)
		}
		fmt.Printf("Store at version %d with %d resource(s)\n", version, a.Service().Table().Len())
		return nil
	},
}

// readRecordFlags applies the --user and --ask-password flags and, with
// --password, prompts for a password to store.
func readRecordFlags(cmd *cobra.Command, rec *panel.Record) error {
	if cmd.Flags().Changed("user") {
		rec.User, _ = cmd.Flags().GetString("user")
	}
	if cmd.Flags().Changed("ask-password") {
		rec.AskPassword, _ = cmd.Flags().GetBool("ask-password")
	}
	if prompt, _ := cmd.Flags().GetBool("password"); prompt && !rec.AskPassword {
		pw, err := newTerminalUI(os.Stdin, os.Stdout).readPassword("Password: ")
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		rec.Password = pw
	}
	return nil
}

func printRecords(records []*panel.Record) {
	if len(records) == 0 {
		fmt.Println("No resources configured.")
		return
	}
	slices.SortFunc(records, func(a, b *panel.Record) int { return strings.Compare(a.URL, b.URL) })
	for _, r := range records {
		state := " "
		if r.IsMounted() {
			state = "M"
		}
		user := r.User
		if user == "" {
			user = "-"
		}
		line := fmt.Sprintf("%s %-40s %-12s", state, r.URL, user)
		if r.IsMounted() {
			line += "  " + r.MountedPath
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("vault", "", "Credential vault type (secret-service, file, s3, memory)")
	configInitCmd.Flags().String("registry", "", "Settings registry type (sqlite, bolt, badger, ini, memory)")
	configInitCmd.Flags().String("backend", "", "Mount backend type (gvfs, session)")

	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringP("user", "u", "", "User to log in as")
		c.Flags().Bool("ask-password", false, "Ask for the password on every mount instead of storing it")
		c.Flags().BoolP("password", "p", false, "Prompt for a password to store")
	}
	editCmd.Flags().String("url", "", "New URL for the resource")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
}
