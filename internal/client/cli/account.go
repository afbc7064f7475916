package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/auth"
	"github.com/iudanet/gophsync/internal/models"
)

func (c *Cli) registerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Register new user",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.run(c.runRegister),
	}
}

func (c *Cli) runRegister(ctx context.Context, args []string) error {
	username, err := c.username(args)
	if err != nil {
		return err
	}
	password, err := c.getPassword("Password: ")
	if err != nil {
		return err
	}

	userID, err := c.auth.Register(ctx, username, password)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	c.io.Println("✓ Registration successful!")
	c.io.Printf("User ID: %s\n", userID)
	c.io.Println("Now run 'gophsync login' to connect this device.")
	return nil
}

func (c *Cli) loginCommand() *cobra.Command {
	var (
		name string
		kind string
	)

	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Login and register this device",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, args []string) error {
			return c.runLogin(ctx, args, name, models.DeviceKind(kind))
		}),
	}

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&name, "name", hostname, "human-readable device name")
	cmd.Flags().StringVar(&kind, "kind", string(models.DeviceKindFull), "device kind (full or capture)")
	return cmd
}

func (c *Cli) runLogin(ctx context.Context, args []string, name string, kind models.DeviceKind) error {
	if kind != models.DeviceKindFull && kind != models.DeviceKindCapture {
		return fmt.Errorf("unknown device kind %q, use full or capture", kind)
	}

	username, err := c.username(args)
	if err != nil {
		return err
	}
	password, err := c.getPassword("Password: ")
	if err != nil {
		return err
	}

	session, err := c.auth.Login(ctx, auth.LoginParams{
		Username:   username,
		Password:   password,
		DeviceName: name,
		DeviceKind: kind,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.io.Println("✓ Login successful!")
	c.io.Printf("Username: %s\n", session.Username)
	c.io.Printf("Device:   %s (%s)\n", session.DeviceID, session.DeviceKind)
	return nil
}

func (c *Cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout and forget tokens of this device",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, _ []string) error {
			if err := c.auth.Logout(ctx); err != nil {
				if errors.Is(err, auth.ErrNotAuthenticated) {
					c.io.Println("Not logged in.")
					return nil
				}
				return err
			}
			c.io.Println("✓ Logged out.")
			return nil
		}),
	}
}

func (c *Cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and sync status",
		Args:  cobra.NoArgs,
		RunE:  c.run(c.runStatus),
	}
}

func (c *Cli) runStatus(ctx context.Context, _ []string) error {
	session, err := c.auth.Current(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			c.io.Println("Status: Not authenticated")
			c.io.Println("Run 'gophsync login' to connect this device.")
			return nil
		}
		return err
	}

	pending, err := c.sync.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending changes: %w", err)
	}
	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return err
	}
	lastSync, err := c.store.LastSync(ctx)
	if err != nil {
		return err
	}

	c.io.Println("Status:    Authenticated")
	c.io.Printf("Username:  %s\n", session.Username)
	c.io.Printf("Device:    %s (%s)\n", session.DeviceID, session.DeviceKind)
	c.io.Printf("Server:    %s\n", c.opts.ServerURL)
	c.io.Printf("Cursor:    %d\n", cursor)
	c.io.Printf("Pending:   %d\n", pending)
	if lastSync.IsZero() {
		c.io.Println("Last sync: never")
	} else {
		c.io.Printf("Last sync: %s\n", lastSync.Format(time.RFC3339))
	}

	expires := time.Unix(session.ExpiresAt, 0)
	if time.Now().After(expires) {
		c.io.Println("Token:     expired, will be refreshed on next request")
	}
	return nil
}

// username берёт имя из аргумента или спрашивает интерактивно
func (c *Cli) username(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return username, nil
}
