package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/LeadVault/internal/audit"
	"github.com/dharsanguruparan/LeadVault/internal/config"
	"github.com/dharsanguruparan/LeadVault/internal/database"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/repository"
	"github.com/dharsanguruparan/LeadVault/internal/sweep"
	"github.com/dharsanguruparan/LeadVault/internal/tabular"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "leadvault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadvault",
		Short: "LeadVault operations CLI",
		Long: `LeadVault CLI covers operational chores around the ingestion engine: applying the
schema, running a duplicate sweep by hand, checking an upload file before it is submitted,
and launching the binaries directly.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newSweepCmd(),
		newInspectCmd(),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

// env bundles what the database backed commands share.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	store *repository.Store
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:   cfg,
		log:   log,
		store: repository.NewStore(pool),
		close: func() {
			pool.Close()
			log.Sync()
		},
	}, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var noLease bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one duplicate sweep against Postgres and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			emitter, closeEmitter := audit.NewEmitter(e.cfg.KafkaBrokers, e.cfg.AuditTopic, e.log)
			defer closeEmitter()

			var lease sweep.Lease
			if !noLease {
				rdb := redis.NewClient(&redis.Options{
					Addr:     e.cfg.RedisAddr,
					Password: e.cfg.RedisPassword,
					DB:       e.cfg.RedisDB,
				})
				defer rdb.Close()
				lease = sweep.NewRedisLease(rdb, "", e.cfg.SweepLeaseTTL)
			}
			report, err := sweep.New(e.store, lease, emitter, e.log).Run(ctx)
			if errors.Is(err, model.ErrSweepInProgress) {
				return errors.New("another sweep holds the lease, try again later")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&noLease, "no-lease", false, "Skip the Redis lease (only safe when no worker is running)")
	return cmd
}

type inspectResult struct {
	File    string           `json:"file"`
	Kind    model.RecordKind `json:"kind"`
	Format  tabular.Format   `json:"format,omitempty"`
	Rows    int              `json:"rows"`
	Valid   int              `json:"valid,omitempty"`
	Invalid int              `json:"invalid,omitempty"`
	Errors  []model.RowError `json:"errors,omitempty"`
	Reason  string           `json:"malformed,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var (
		kind      string
		validate  bool
		maxErrors int
	)
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Parse an upload file locally and report what ingestion would see",
		Long: `Inspect decodes FILE the way a batch would and prints the row count, or the reason the
file would be rejected as malformed. With --validate every row is also run through the row
validator. Person rows need DATABASE_URL to resolve their parent organizations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			recordKind, err := model.ParseRecordKind(kind)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			res := inspectResult{File: args[0], Kind: recordKind}
			table, err := tabular.Parse(f, recordKind, cfg.MaxFileSize)
			var malformed *model.MalformedFileError
			if errors.As(err, &malformed) {
				res.Reason = malformed.Reason
				return printJSON(cmd, res)
			}
			if err != nil {
				return err
			}
			res.Format = table.Format
			res.Rows = len(table.Rows)
			if !validate {
				return printJSON(cmd, res)
			}

			var lookup validation.OrganizationLookup = noOrganizations{}
			if recordKind == model.KindPerson {
				e, err := openEnv(ctx)
				if err != nil {
					return err
				}
				defer e.close()
				lookup = e.store
			}
			v := validation.New(lookup)
			for _, row := range table.Rows {
				out, err := v.Row(ctx, recordKind, row, "inspect")
				if err != nil {
					return err
				}
				if out.Valid() {
					res.Valid++
					continue
				}
				res.Invalid++
				if len(res.Errors) < maxErrors {
					res.Errors = append(res.Errors, out.Errors...)
				}
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Record kind: organization or person")
	cmd.Flags().BoolVar(&validate, "validate", false, "Run row validation as well as parsing")
	cmd.Flags().IntVar(&maxErrors, "max-errors", 50, "Cap on row errors printed")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// noOrganizations backs organization-only validation, which never looks up
// a parent.
type noOrganizations struct{}

func (noOrganizations) GetOrganization(context.Context, string) (*model.Organization, error) {
	return nil, model.ErrNotFound
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("api", "./cmd/api"),
		newServiceRunner("worker", "./cmd/worker"),
		newServiceRunner("server", "./cmd/server"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
