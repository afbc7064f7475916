package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	clientapi "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

type deviceItem struct {
	DeviceID          string
	Name              string
	Kind              string
	LastSeen          string
	Revoked           string
	LastPulledVersion uint64
	Current           bool
}

type conflictItem struct {
	ID         string
	Type       string
	EntityID   string
	Resolution string
	CreatedAt  string
	Fields     string
}

func (c *Cli) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices of the account",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, _ []string) error {
			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			resp, err := c.apiClient.Devices(ctx)
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}

			items := make([]deviceItem, 0, len(resp.Devices))
			for _, d := range resp.Devices {
				item := deviceItem{
					DeviceID:          d.DeviceID,
					Name:              d.Name,
					Kind:              d.Kind,
					LastSeen:          formatTime(d.LastSeenAt),
					LastPulledVersion: d.LastPulledVersion,
					Current:           d.Current,
				}
				if d.RevokedAt != nil {
					item.Revoked = formatTime(*d.RevokedAt)
				}
				items = append(items, item)
			}
			return c.render(deviceListTemplate, items)
		}),
	}
}

func (c *Cli) revokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device_id>",
		Short: "Revoke a device, its tokens stop working",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, args []string) error {
			if err := c.requireLogin(ctx); err != nil {
				return err
			}
			if err := c.apiClient.RevokeDevice(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to revoke device: %w", err)
			}
			c.io.Printf("✓ Device %s revoked\n", args[0])
			return nil
		}),
	}
}

func (c *Cli) conflictsCommand() *cobra.Command {
	var (
		resolution string
		local      bool
	)

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflict records",
		Long: `List conflict records kept by the server. Merged conflicts are an audit
trail, deferred ones hold a change the server did not apply. With --local
the records saved on this device during sync are shown instead.`,
		Args: cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, _ []string) error {
			if local {
				return c.listLocalConflicts(ctx)
			}
			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			resp, err := c.apiClient.Conflicts(ctx, resolution)
			if err != nil {
				return fmt.Errorf("failed to list conflicts: %w", err)
			}

			items := make([]conflictItem, 0, len(resp.Conflicts))
			for _, cf := range resp.Conflicts {
				items = append(items, conflictFromAPI(cf))
			}
			return c.render(conflictListTemplate, items)
		}),
	}

	cmd.Flags().StringVar(&resolution, "resolution", "", "filter: auto-merged or deferred-to-user")
	cmd.Flags().BoolVar(&local, "local", false, "show conflicts recorded on this device")
	cmd.AddCommand(c.clearConflictCommand())
	return cmd
}

func (c *Cli) clearConflictCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <conflict_id>",
		Short: "Remove a handled conflict record",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, args []string) error {
			if err := c.requireLogin(ctx); err != nil {
				return err
			}
			id := args[0]

			// запись может быть только на сервере или только локально
			serverErr := c.apiClient.DeleteConflict(ctx, id)
			if serverErr != nil && clientapi.StatusCode(serverErr) != http.StatusNotFound {
				return fmt.Errorf("failed to clear conflict: %w", serverErr)
			}
			localErr := c.store.DeleteConflict(ctx, id)
			if localErr != nil && !errors.Is(localErr, storage.ErrConflictNotFound) {
				return fmt.Errorf("failed to clear local conflict: %w", localErr)
			}
			if serverErr != nil && localErr != nil {
				return fmt.Errorf("conflict %s not found", id)
			}

			c.io.Printf("✓ Conflict %s cleared\n", id)
			return nil
		}),
	}
}

func (c *Cli) listLocalConflicts(ctx context.Context) error {
	records, err := c.store.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list local conflicts: %w", err)
	}

	items := make([]conflictItem, 0, len(records))
	for _, r := range records {
		items = append(items, conflictItem{
			ID:         r.ID,
			Type:       r.Type,
			EntityID:   r.EntityID,
			Resolution: string(r.Resolution),
			CreatedAt:  formatTime(r.CreatedAt),
			Fields:     strings.Join(r.Fields, ", "),
		})
	}
	return c.render(conflictListTemplate, items)
}

func conflictFromAPI(cf api.Conflict) conflictItem {
	return conflictItem{
		ID:         cf.ID,
		Type:       cf.Type,
		EntityID:   cf.EntityID,
		Resolution: cf.Resolution,
		CreatedAt:  formatTime(cf.CreatedAt),
		Fields:     strings.Join(cf.Fields, ", "),
	}
}
