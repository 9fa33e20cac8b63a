// Package onboardingcli wires the onboarding servers and maintenance tasks
// into a single command line.
package onboardingcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/phillip-england/onboarding/internal/apiapp"
	"github.com/phillip-england/onboarding/internal/catalog"
	"github.com/phillip-england/onboarding/internal/clientapp"
	"github.com/phillip-england/onboarding/internal/envutil"
	"github.com/phillip-england/onboarding/internal/security"
	"github.com/phillip-england/onboarding/internal/store"
)

var ErrUsage = errors.New("usage")

// Execute runs the command line with args (without the program name).
func Execute(args []string) error {
	root := NewRootCommand(os.Stdout)
	root.SetArgs(args)
	return root.Execute()
}

func NewRootCommand(out io.Writer) *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "onboarding",
		Short:         "Employee onboarding portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("%w: onboarding <setup|run|seed|backup> [...]", ErrUsage)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to .env file")

	root.AddCommand(
		newSetupCommand(&envFile),
		newRunCommand(&envFile),
		newSeedCommand(&envFile),
		newBackupCommand(&envFile),
	)
	return root
}

func newSetupCommand(envFile *string) *cobra.Command {
	var (
		adminEmail    string
		adminPassword string
		dbPath        string
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file with the initial admin account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(adminEmail) == "" {
				return errors.New("--admin-email is required")
			}
			if adminPassword == "" {
				return errors.New("--admin-password is required")
			}
			if _, err := security.HashPassword(adminPassword); err != nil {
				return fmt.Errorf("invalid admin password: %w", err)
			}
			values := map[string]string{
				"ADMIN_EMAIL":    strings.TrimSpace(adminEmail),
				"ADMIN_PASSWORD": adminPassword,
				"DB_PATH":        dbPath,
				"API_ADDR":       ":8080",
				"CLIENT_ADDR":    ":3000",
				"API_BASE_URL":   "http://localhost:8080",
				"MAX_UPLOAD_MB":  "10",
				"SESSION_TTL":    "12h",
			}
			if err := envutil.WriteDotEnv(*envFile, values, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *envFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "initial admin email")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "initial admin password (min 12 chars)")
	cmd.Flags().StringVar(&dbPath, "db-path", "data/onboarding.db", "sqlite database path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing env file")
	return cmd
}

func newRunCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "run <api|client|all>",
		Short:     "Run the API server, the web client, or both",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"api", "client", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var run func(context.Context) error
			switch args[0] {
			case "api":
				run = runAPI
			case "client":
				run = runClient
			case "all":
				run = runAll
			default:
				return fmt.Errorf("unknown run target %q", args[0])
			}
			if err := envutil.LoadDotEnv(*envFile); err != nil {
				return fmt.Errorf("load %s: %w", *envFile, err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx)
		},
	}
}

func newSeedCommand(envFile *string) *cobra.Command {
	var file, dbPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create departments, forms and document templates from a catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return errors.New("--file is required")
			}
			if err := envutil.LoadDotEnv(*envFile); err != nil {
				return fmt.Errorf("load %s: %w", *envFile, err)
			}
			c, err := catalog.Load(file)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			sum, err := catalog.Apply(cmd.Context(), st, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "departments created: %d, forms saved: %d, documents created: %d\n",
				sum.DepartmentsCreated, sum.FormsSaved, sum.DocumentsCreated)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog file (.yaml, .yml, .xlsx, .xls)")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "sqlite database path (defaults to DB_PATH)")
	return cmd
}

func newBackupCommand(envFile *string) *cobra.Command {
	var out, dbPath string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database, xz-compressed when --out ends in .xz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(out) == "" {
				return errors.New("--out is required")
			}
			if err := envutil.LoadDotEnv(*envFile); err != nil {
				return fmt.Errorf("load %s: %w", *envFile, err)
			}
			st, err := openStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			written, err := backup(cmd.Context(), st, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, written)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "backup destination")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "sqlite database path (defaults to DB_PATH)")
	return cmd
}

func openStore(ctx context.Context, dbPath string) (*store.Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = apiapp.DefaultConfigFromEnv().DBPath
	}
	if err := ensureParentDirs(dbPath); err != nil {
		return nil, err
	}
	return store.Open(ctx, dbPath)
}

// backup snapshots st into a scratch file, then moves or compresses it to out.
func backup(ctx context.Context, st *store.Store, out string) (int64, error) {
	if err := ensureParentDirs(out); err != nil {
		return 0, err
	}
	scratch, err := os.MkdirTemp("", "onboarding-backup-")
	if err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	snapshot := filepath.Join(scratch, "snapshot.db")
	if err := st.Backup(ctx, snapshot); err != nil {
		return 0, err
	}
	src, err := os.Open(snapshot)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", out, err)
	}
	if !strings.HasSuffix(strings.ToLower(out), ".xz") {
		n, err := io.Copy(dst, src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		return n, err
	}

	zw, err := xz.NewWriter(dst)
	if err != nil {
		_ = dst.Close()
		return 0, fmt.Errorf("xz writer: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		return 0, fmt.Errorf("compress backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return 0, fmt.Errorf("compress backup: %w", err)
	}
	info, err := dst.Stat()
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func runAPI(ctx context.Context) error {
	cfg := apiapp.DefaultConfigFromEnv()
	if err := ensureParentDirs(cfg.DBPath); err != nil {
		return err
	}
	if err := apiapp.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runClient(ctx context.Context) error {
	cfg := clientapp.DefaultConfigFromEnv()
	if err := clientapp.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runAll stops both servers as soon as either one fails.
func runAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runAPI(gctx) })
	g.Go(func() error {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-gctx.Done():
			return nil
		}
		return runClient(gctx)
	})
	return g.Wait()
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
