package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/email"
	"github.com/brandon/mapi-bridge/internal/entity"
	"github.com/brandon/mapi-bridge/internal/mcp"
	"github.com/brandon/mapi-bridge/internal/tools"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mapi-bridge",
		Short:         "Query MAPI-style property stores over MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newDumpCommand())
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the query tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			q := a.query()
			defer q.Close()
			server := mcp.NewServer(tools.NewRegistry(q, a.importer, a.logger), version, a.logger)

			a.logger.WithField("version", version).Info("Starting MAPI bridge")

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.serveMetrics(ctx)
			})

			// Run blocks on stdin, so a signal does not wait for it to return.
			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Run(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("Received shutdown signal")
			case err = <-errChan:
				if err != nil {
					a.logger.WithError(err).Error("Server error")
				}
			}
			cancel()
			if werr := g.Wait(); err == nil {
				err = werr
			}

			a.logger.Info("Shutting down MAPI bridge")
			return err
		},
	}
}

func newSyncCommand() *cobra.Command {
	var account, mailbox string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import IMAP accounts into the property store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.importer == nil {
				return errors.New("no accounts configured")
			}

			var results []email.SyncResult
			if account == "" {
				if mailbox != "" {
					return errors.New("--mailbox needs --account")
				}
				if results, err = a.importer.SyncAll(ctx); err != nil {
					return err
				}
			} else {
				res, err := a.importer.SyncAccount(ctx, account, mailbox)
				if err != nil {
					return err
				}
				results = append(results, *res)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "sync only this account")
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "sync only this mailbox of --account")
	return cmd
}

func newDumpCommand() *cobra.Command {
	var withItems bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the stores and folder trees of the property store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			q := a.query()
			defer q.Close()
			return dump(ctx, q, cmd.OutOrStdout(), withItems)
		},
	}

	cmd.Flags().BoolVar(&withItems, "items", false, "list the items of every folder")
	return cmd
}

func dump(ctx context.Context, q *entity.Query, out io.Writer, withItems bool) error {
	stores, err := q.Stores(ctx, nil, driver.Directives{})
	if err != nil {
		return err
	}

	for _, s := range stores {
		fmt.Fprintf(out, "%s [%s]\n", s.Name(), hex.EncodeToString(s.ID()))

		rootID, err := s.RootID(ctx)
		if err != nil {
			return err
		}
		folders, err := s.FolderHierarchy(ctx, nil, false)
		if err != nil {
			return err
		}

		depth := map[string]int{string(rootID): 0}
		for _, f := range folders {
			d := depth[string(f.ParentID())] + 1
			depth[string(f.ID())] = d
			indent := strings.Repeat("  ", d)

			fmt.Fprintf(out, "%s%s (%d items, %d unread)", indent, f.Name(), f.Count(), f.Unread())
			if kind, ok, err := f.SpecialFolder(ctx); err == nil && ok {
				fmt.Fprintf(out, " %s", kind)
			}
			fmt.Fprintln(out)

			if !withItems {
				continue
			}
			items, err := f.Items(ctx, nil, driver.Directives{})
			if err != nil {
				return err
			}
			for _, item := range items {
				when := "-"
				if t, ok := item.Received(); ok {
					when = humanize.Time(t)
				}
				fmt.Fprintf(out, "%s  - %s | %s | %s\n", indent, item.Subject(), item.Sender(), when)
			}
		}
		q.ClearCaches()
	}
	return nil
}
