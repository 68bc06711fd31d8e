package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/agentic-research/loom/internal/config"
	"github.com/agentic-research/loom/internal/session"
	"github.com/agentic-research/loom/internal/store"
	"github.com/agentic-research/loom/internal/typedlink"
	"github.com/agentic-research/loom/internal/vault"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	vaultPath  string
	configPath string
	debug      bool
	assumeYes  bool
	archives   []string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault", "v", ".", "Path to the document vault")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to loom.hcl (default <vault>/loom.hcl)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Confirm bulk loads without asking")
	rootCmd.PersistentFlags().StringArrayVar(&archives, "archive", nil, "Serve a database from \"loom build\" as a store, as <id>=<path> (repeatable)")
}

var rootCmd = &cobra.Command{
	Use:           "loom",
	Short:         "Loom: a live, growable graph over interlinked documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// workspace is everything a command needs to run operations on a vault.
type workspace struct {
	logger  *zap.Logger
	config  config.Config
	vault   *vault.Vault
	session *session.Session
	closers []io.Closer
}

func (w *workspace) Close() error {
	var errs []error
	if w.session != nil {
		errs = append(errs, w.session.Close())
	}
	for _, c := range w.closers {
		errs = append(errs, c.Close())
	}
	_ = w.logger.Sync()
	return errors.Join(errs...)
}

// openWorkspace scans the vault, opens the configured stores and starts a
// session over them.
func openWorkspace(ctx context.Context, cmd *cobra.Command, opts ...session.Option) (*workspace, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	w := &workspace{logger: logger}

	root, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("resolve vault: %w", err)
	}
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, config.DefaultFile)
	}
	if w.config, err = config.Load(cfgPath); err != nil {
		return nil, err
	}
	for _, a := range archives {
		id, path, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("--archive %q: want <id>=<path>", a)
		}
		w.config.Archives = append(w.config.Archives, config.Archive{ID: id, Path: path})
	}
	if err := w.config.Validate(); err != nil {
		return nil, err
	}

	w.vault = vault.New(osfs.New(root), vault.WithLogger(logger))
	if err := w.vault.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan vault %s: %w", root, err)
	}
	logger.Info("vault scanned", zap.String("root", root), zap.Int("documents", w.vault.Len()))

	parser := store.WithParser(typedlink.NewLineParser(w.config.LinkTypes...))
	core := store.NewCoreStore(w.vault, parser, store.WithLogger(logger))
	stores := []store.DataStore{core}
	index := store.NewMultiIndex().Register(store.CoreStoreID, core)
	if w.config.TagStore {
		tags := store.NewTagStore(w.vault, store.WithLogger(logger))
		stores = append(stores, tags)
		index.Register(store.TagStoreID, tags)
	}
	for _, a := range w.config.Archives {
		arc, err := store.OpenSQLiteStore(a.Path, store.WithStoreID(a.ID), parser, store.WithLogger(logger))
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		w.closers = append(w.closers, arc)
		stores = append(stores, arc)
		index.Register(a.ID, arc)
	}

	all := append(w.config.SessionOptions(),
		session.WithLogger(logger),
		session.WithLinkIndex(index),
		session.WithConfirm(confirm(cmd.InOrStdin(), cmd.ErrOrStderr())),
	)
	w.session, err = session.New(stores, append(all, opts...)...)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// confirm asks on in/out before a bulk load, unless --yes was given.
func confirm(in io.Reader, out io.Writer) session.ConfirmFunc {
	return func(count int) bool {
		if assumeYes {
			return true
		}
		fmt.Fprintf(out, "Load %d nodes into the graph? [y/N] ", count)
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
