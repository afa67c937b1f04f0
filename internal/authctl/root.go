// Package authctl is the gateway's administrative command line: schema
// migrations, user provisioning and session cleanup.
package authctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type cli struct {
	open       Opener
	configPath string
	dsn        string
	logLevel   string

	cfg *config.Config
	env *Env
}

// NewRootCommand builds the command tree. open is called once per command
// invocation, after configuration is loaded.
func NewRootCommand(open Opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "authctl",
		Short: "Administer the gophgate database",
		Long: `Administrative commands for the gophgate gateway.

Configuration is read from GOPHGATE_* environment variables and an optional
config file, the same sources the server uses.

Examples:
  authctl migrate
  authctl seed
  authctl create-user alice --email alice@example.com --role admin
  authctl purge-sessions`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&c.dsn, "dsn", "", "database DSN, overrides the config")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level")

	root.AddCommand(c.migrateCmd(), c.seedCmd(), c.createUserCmd(), c.purgeCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigFile(c.configPath)
	if err != nil {
		return err
	}
	if c.dsn != "" {
		cfg.DatabaseDSN = c.dsn
	}
	c.cfg = cfg

	l := logging.New(cmd.ErrOrStderr(), cfg.Environment, c.logLevel)
	env, err := c.open(cmd.Context(), cfg, l)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.env = env
	return nil
}

// run closes the Env once fn returns.
func (c *cli) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if c.env != nil && c.env.Close != nil {
				err = errors.Join(err, c.env.Close())
			}
		}()
		return fn(cmd, args)
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, _ []string) error {
			if err := c.env.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		}),
	}
}

func (c *cli) seedCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the demo admin and user accounts",
		Long: `Create the demo accounts admin/admin123 (role admin) and demo/demo123
(role user). Existing usernames are skipped.

Refuses to run in production unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, _ []string) error {
			if c.cfg.IsProduction() && !force {
				return errors.New("refusing to seed demo accounts in production (use --force)")
			}
			n, err := c.env.Accounts.Seed(cmd.Context(), services.DemoAccounts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d user(s)\n", n)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "seed even in production")
	return cmd
}

func (c *cli) createUserCmd() *cobra.Command {
	var a services.NewAccount

	cmd := &cobra.Command{
		Use:   "create-user <username>",
		Short: "Create a user account",
		Long: `Create an active user account. Without --password the password is read
from the terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			a.Username = args[0]
			if a.Password == "" {
				pw, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				a.Password = pw
			}

			u, err := c.env.Accounts.Create(cmd.Context(), a)
			if errors.Is(err, common.ErrorAlreadyExists) {
				return fmt.Errorf("user %q already exists", a.Username)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) id=%s\n", u.Username, u.Role, u.ID)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&a.Email, "email", "e", "", "email address (required)")
	cmd.Flags().StringVarP(&a.Role, "role", "r", common.RoleUser, "role: admin or user")
	cmd.Flags().StringVarP(&a.Password, "password", "p", "", "password; prompted when empty")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func promptPassword(cmd *cobra.Command) (string, error) {
	w := cmd.ErrOrStderr()
	fmt.Fprint(w, "Enter password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	defer clear(pw)
	return strings.TrimSpace(string(pw)), nil
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete sessions whose tokens have all expired",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, _ []string) error {
			n, err := c.env.Sessions.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d session(s)\n", n)
			return nil
		}),
	}
}

// Execute runs the command tree against Postgres.
func Execute(ctx context.Context) error {
	return NewRootCommand(OpenPostgres).ExecuteContext(ctx)
}
