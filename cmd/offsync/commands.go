package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maintrack/offsync/pkg/offsync"
)

func (c *cli) statusCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue and cache state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.open()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			state := client.Connectivity()
			if probe {
				state = client.Probe(ctx)
			}
			stats, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(state, client.Phase(), stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", true, "probe the remote before reporting")
	return cmd
}

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		kind    string
		payload string
		base    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <entity-type> <entity-key>",
		Short: "Queue an edit for the next sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.open()
			if err != nil {
				return err
			}
			defer client.Close()

			m := offsync.Mutation{
				EntityType:   args[0],
				EntityKey:    args[1],
				Kind:         offsync.OpKind(kind),
				BaseRevision: base,
				LocalTime:    time.Now(),
			}
			if payload != "" {
				body, err := readPayload(payload, cmd.InOrStdin())
				if err != nil {
					return err
				}
				m.Payload = body
			}
			id, err := client.Enqueue(cmd.Context(), m)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(offsync.OpUpdate), "create, update or delete")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON body, @file or - for stdin")
	cmd.Flags().StringVar(&base, "base-revision", "", "remote revision the edit was made against")
	return cmd
}

// readPayload resolves the --payload forms: literal JSON, @file, or "-".
func readPayload(arg string, stdin io.Reader) (json.RawMessage, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case arg == "-":
		b, err = io.ReadAll(stdin)
	case len(arg) > 1 && arg[0] == '@':
		b, err = os.ReadFile(arg[1:])
	default:
		b = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(b), nil
}

func (c *cli) deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dl"},
		Short:   "Inspect and handle edits that will not be retried automatically",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered edits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.open()
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := client.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OP ID\tENTITY\tKIND\tATTEMPTS\tREASON")
			for _, m := range items {
				fmt.Fprintf(w, "%s\t%s/%s\t%s\t%d\t%s\n", m.OpID, m.EntityType, m.EntityKey, m.Kind, m.Attempts, m.DeadReason)
			}
			return w.Flush()
		},
	}

	retry := &cobra.Command{
		Use:   "retry <op-id>...",
		Short: "Move dead-lettered edits back to the queue with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.eachOp(cmd, args, func(client *offsync.Client, id string) error {
				return client.Requeue(cmd.Context(), id)
			})
		},
	}

	purge := &cobra.Command{
		Use:   "purge <op-id>...",
		Short: "Permanently delete dead-lettered edits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.eachOp(cmd, args, func(client *offsync.Client, id string) error {
				return client.Purge(cmd.Context(), id)
			})
		},
	}

	cmd.AddCommand(list, retry, purge)
	return cmd
}

// eachOp applies fn to every id and reports all failures.
func (c *cli) eachOp(cmd *cobra.Command, ids []string, fn func(*offsync.Client, string) error) error {
	client, err := c.open()
	if err != nil {
		return err
	}
	defer client.Close()

	var errs []error
	for _, id := range ids {
		if err := fn(client, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return errors.Join(errs...)
}

func (c *cli) discardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discards",
		Short: "List local edits dropped because a newer remote write won",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.open()
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := client.Discards(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OP ID\tENTITY\tKIND\tLOCAL\tREMOTE\tREASON")
			for _, d := range items {
				fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s@%s\t%s\n",
					d.OpID, d.EntityType, d.EntityKey, d.Kind,
					d.LocalTime.Format(time.RFC3339),
					d.RemoteRevision, d.RemoteTime.Format(time.RFC3339),
					d.Reason)
			}
			return w.Flush()
		},
	}
}

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the page cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached page; queued edits are kept",
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := c.open()
				if err != nil {
					return err
				}
				defer client.Close()
				return client.ClearCache(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "evict",
			Short: "Enforce the cache budget now",
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := c.open()
				if err != nil {
					return err
				}
				defer client.Close()
				res, err := client.Evict(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %d pages, %s freed, %s cached\n",
					res.Evicted, humanBytes(res.FreedBytes), humanBytes(res.TotalBytes))
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the local database, including queued edits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all queued edits in %s; pass --yes to confirm", c.cfg.DataDir)
			}
			if err := offsync.Reset(c.cfg.ClientConfig(getVersion())); err != nil {
				return err
			}
			c.log.Warn().Str("data_dir", c.cfg.DataDir).Msg("local store reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
