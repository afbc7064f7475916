package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/data"
	"github.com/iudanet/gophsync/internal/models"
)

func (c *Cli) putCommand() *cobra.Command {
	var (
		rawJSON string
		fields  []string
	)

	cmd := &cobra.Command{
		Use:   "put <type> [id]",
		Short: "Create or replace an entity",
		Long: `Create or replace an entity in the local copy and queue it for sync.
Without id a new entity is created. The payload is given either as a JSON
object (--json) or field by field (--set name=value). A value that parses
as JSON is stored as is, otherwise it is stored as a string.`,
		Example: `  gophsync put note --set title=Groceries --set done=false
  gophsync put note 0b9e... --json '{"title":"Groceries","items":["milk"]}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: c.run(func(ctx context.Context, args []string) error {
			payload, err := parsePayload(rawJSON, fields)
			if err != nil {
				return err
			}
			return c.runPut(ctx, args, payload)
		}),
	}

	cmd.Flags().StringVar(&rawJSON, "json", "", "payload as JSON object")
	cmd.Flags().StringArrayVar(&fields, "set", nil, "payload field name=value, repeatable")
	cmd.MarkFlagsMutuallyExclusive("json", "set")
	cmd.MarkFlagsOneRequired("json", "set")
	return cmd
}

func (c *Cli) runPut(ctx context.Context, args []string, payload models.Payload) error {
	if err := c.requireLogin(ctx); err != nil {
		return err
	}

	var id string
	if len(args) > 1 {
		id = args[1]
	}

	entity, err := c.data.Put(ctx, args[0], id, payload)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}

	c.io.Printf("✓ Saved %s/%s\n", entity.Type, entity.ID)
	c.io.Println("Run 'gophsync sync' to send it to the server.")
	return nil
}

func (c *Cli) getCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Show entity details",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(ctx context.Context, args []string) error {
			entity, err := c.data.Get(ctx, args[0], args[1])
			if err != nil {
				if errors.Is(err, data.ErrNotFound) {
					return fmt.Errorf("entity %s/%s not found", args[0], args[1])
				}
				return err
			}
			if asJSON {
				return c.printJSON(entity)
			}
			return c.render(entityTemplate, entityView(entity))
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (c *Cli) listCommand() *cobra.Command {
	var withDeleted bool

	cmd := &cobra.Command{
		Use:   "list [type]",
		Short: "List entities of the local copy",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, args []string) error {
			var entityType string
			if len(args) > 0 {
				entityType = args[0]
			}

			entities, err := c.data.List(ctx, entityType, withDeleted)
			if err != nil {
				return fmt.Errorf("failed to list entities: %w", err)
			}

			views := make([]entityItem, 0, len(entities))
			for _, e := range entities {
				views = append(views, entityView(e))
			}
			return c.render(entityListTemplate, views)
		}),
	}

	cmd.Flags().BoolVar(&withDeleted, "deleted", false, "include deleted entities")
	return cmd
}

func (c *Cli) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(ctx context.Context, args []string) error {
			if err := c.requireLogin(ctx); err != nil {
				return err
			}
			if err := c.data.Delete(ctx, args[0], args[1]); err != nil {
				if errors.Is(err, data.ErrNotFound) {
					return fmt.Errorf("entity %s/%s not found", args[0], args[1])
				}
				return fmt.Errorf("failed to delete entity: %w", err)
			}
			c.io.Printf("✓ Deleted %s/%s\n", args[0], args[1])
			return nil
		}),
	}
}

// parsePayload собирает payload из --json или набора --set
func parsePayload(rawJSON string, fields []string) (models.Payload, error) {
	if rawJSON != "" {
		var payload models.Payload
		if err := json.Unmarshal([]byte(rawJSON), &payload); err != nil {
			return nil, fmt.Errorf("invalid --json payload: %w", err)
		}
		if payload == nil {
			return nil, errors.New("invalid --json payload: object expected")
		}
		return payload, nil
	}

	payload := make(models.Payload, len(fields))
	for _, f := range fields {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, expected name=value", f)
		}
		payload[name] = parseValue(raw)
	}
	return payload, nil
}

// parseValue: JSON значение, если разбирается, иначе строка
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func (c *Cli) printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = c.io.Write(append(out, '\n'))
	return err
}
