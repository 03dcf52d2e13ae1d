// Command gatectl inspects and edits the identity ledger of a shared
// (postgres or redis) backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"chatgate/internal/moderation/ledger"
	"chatgate/internal/moderation/store"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/logger"
	dErrors "chatgate/pkg/domain-errors"
)

func main() {
	_ = godotenv.Load()
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "gatectl",
		Usage:     "operator tool for the chatgate identity ledger",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "storage",
				Usage:   "ledger backend: postgres or redis",
				EnvVars: []string{"STORAGE_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "redis-url",
				EnvVars: []string{"REDIS_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "print an identity's record",
				ArgsUsage: "<identity>",
				Action:    runStatus,
			},
			{
				Name:      "unblock",
				Usage:     "clear an identity's strikes and lockout",
				ArgsUsage: "<identity>",
				Action:    runUnblock,
			},
			{
				Name:   "list",
				Usage:  "list known identities",
				Action: runList,
			},
		},
	}
}

// openLedger builds a ledger against the backend named by the global flags.
// The in-memory backend is refused: it would only ever be empty.
func openLedger(cctx *cli.Context) (*ledger.Ledger, func() error, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	if v := cctx.String("storage"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := cctx.String("database-url"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := cctx.String("redis-url"); v != "" {
		cfg.Redis.URL = v
	}
	if cfg.Storage.Backend == config.BackendMemory {
		return nil, nil, fmt.Errorf("gatectl needs a shared backend; set --storage to postgres or redis")
	}

	backend, err := store.Open(cctx.Context, cfg)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.New(backend.Store,
		ledger.WithLogger(logger.NewWithWriter(cctx.App.ErrWriter, cctx.String("log-level"), "text")),
		ledger.WithConfig(ledger.Config{
			StrikeThreshold: cfg.Moderation.StrikeThreshold,
			BlockDuration:   cfg.Moderation.BlockDuration,
			Timeout:         cfg.Storage.Timeout,
		}),
	)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return l, backend.Close, nil
}

func identityArg(cctx *cli.Context) (string, error) {
	id := cctx.Args().First()
	if id == "" {
		return "", fmt.Errorf("need to provide an identity as an argument")
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(cctx *cli.Context) error {
	id, err := identityArg(cctx)
	if err != nil {
		return err
	}
	l, closeFn, err := openLedger(cctx)
	if err != nil {
		return err
	}
	defer closeFn()

	record, err := l.Status(ctxOf(cctx), id)
	if err != nil {
		return err
	}
	return printJSON(cctx.App.Writer, record)
}

func runUnblock(cctx *cli.Context) error {
	id, err := identityArg(cctx)
	if err != nil {
		return err
	}
	l, closeFn, err := openLedger(cctx)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := ctxOf(cctx)
	exists, err := l.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return dErrors.New(dErrors.CodeIdentityNotFound, fmt.Sprintf("identity %q not found", id))
	}
	record, err := l.Unblock(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cctx.App.Writer, record)
}

func runList(cctx *cli.Context) error {
	l, closeFn, err := openLedger(cctx)
	if err != nil {
		return err
	}
	defer closeFn()

	ids, err := l.AllIdentities(ctxOf(cctx))
	if err != nil {
		return err
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(cctx.App.Writer, id)
	}
	return nil
}

func ctxOf(cctx *cli.Context) context.Context {
	if cctx.Context != nil {
		return cctx.Context
	}
	return context.Background()
}
