// Package cli команды клиента gophsync.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/auth"
	"github.com/iudanet/gophsync/internal/client/data"
	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	"github.com/iudanet/gophsync/internal/client/sync"
	"github.com/iudanet/gophsync/internal/logging"
	"github.com/iudanet/gophsync/internal/models"
)

// PasswordEnv переменная окружения с паролем, самый приоритетный источник
const PasswordEnv = "GOPHSYNC_PASSWORD"

// Options глобальные флаги клиента
type Options struct {
	ServerURL    string
	DBPath       string
	LogLevel     string
	LogFormat    string
	Password     string
	PasswordFile string
}

// BuildInfo версия сборки, задаётся через ldflags
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// Cli держит сервисы на время выполнения одной команды.
// Локальная база открывается перед командой и закрывается после,
// чтобы не держать файловую блокировку bbolt дольше нужного.
type Cli struct {
	io        iocli.IO
	logOut    io.Writer
	build     BuildInfo
	opts      Options
	logger    *slog.Logger
	syncCfg   sync.Config
	store     *boltdb.Storage
	apiClient *api.Client
	auth      *auth.Service
	data      data.Service
	sync      sync.Service
}

// New создает CLI. Логи пишутся в logOut, вывод команд в io.
func New(stdio iocli.IO, logOut io.Writer, build BuildInfo) *Cli {
	return &Cli{
		io:      stdio,
		logOut:  logOut,
		build:   build,
		syncCfg: sync.DefaultConfig(),
	}
}

// RootCommand собирает дерево команд
func (c *Cli) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gophsync",
		Short:         "gophsync offline-first sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fs := root.PersistentFlags()
	fs.StringVar(&c.opts.ServerURL, "server", "http://localhost:8080", "server URL")
	fs.StringVar(&c.opts.DBPath, "db", "gophsync-client.db", "path to local database")
	fs.StringVar(&c.opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.StringVar(&c.opts.LogFormat, "log-format", "text", "log format (text or json)")
	fs.StringVar(&c.opts.Password, "password", "", "account password (not recommended, use env var or file)")
	fs.StringVar(&c.opts.PasswordFile, "password-file", "", "path to file containing account password")

	root.AddCommand(
		c.registerCommand(),
		c.loginCommand(),
		c.logoutCommand(),
		c.statusCommand(),
		c.putCommand(),
		c.getCommand(),
		c.listCommand(),
		c.deleteCommand(),
		c.syncCommand(),
		c.watchCommand(),
		c.devicesCommand(),
		c.revokeCommand(),
		c.conflictsCommand(),
		c.versionCommand(),
	)
	return root
}

// run оборачивает команду: открывает сессию и гарантирует её закрытие
func (c *Cli) run(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := c.open(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			if cerr := c.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd.Context(), args)
	}
}

func (c *Cli) open(ctx context.Context) error {
	level, err := logging.ParseLevel(c.opts.LogLevel)
	if err != nil {
		return err
	}
	c.logger, err = logging.NewWithWriter(c.logOut, c.opts.LogFormat, level)
	if err != nil {
		return err
	}

	c.store, err = boltdb.New(ctx, c.opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	c.apiClient = api.NewClient(c.opts.ServerURL)
	c.auth = auth.NewService(c.apiClient, c.store, c.store, c.logger)
	c.apiClient.SetTokenSource(c.auth)
	c.data = data.NewService(c.store)

	cfg := c.syncCfg
	if current, err := c.auth.Current(ctx); err == nil && current.DeviceKind == string(models.DeviceKindCapture) {
		cfg.PushOnly = true
	}
	c.sync = sync.NewService(c.apiClient, c.store, c.store, cfg, c.logger)
	return nil
}

func (c *Cli) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// requireLogin проверяет, что на устройстве есть сессия
func (c *Cli) requireLogin(ctx context.Context) error {
	if _, err := c.auth.Current(ctx); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return errors.New("not authenticated, please run 'gophsync login' first")
		}
		return err
	}
	return nil
}

// getPassword читает пароль из источников по приоритету:
// 1. Переменная окружения GOPHSYNC_PASSWORD
// 2. Файл из --password-file
// 3. Флаг --password
// 4. Интерактивный ввод
func (c *Cli) getPassword(prompt string) (string, error) {
	if envPassword := os.Getenv(PasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	if c.opts.PasswordFile != "" {
		content, err := os.ReadFile(c.opts.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		password := strings.TrimSpace(string(content))
		if password == "" {
			return "", errors.New("password file is empty")
		}
		return password, nil
	}

	if c.opts.Password != "" {
		return c.opts.Password, nil
	}

	password, err := c.io.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func (c *Cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			c.io.Printf("gophsync client\n")
			c.io.Printf("Version:    %s\n", c.build.Version)
			c.io.Printf("Build Date: %s\n", c.build.BuildDate)
			c.io.Printf("Git Commit: %s\n", c.build.GitCommit)
		},
	}
}
