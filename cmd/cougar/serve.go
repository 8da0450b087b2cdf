// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/cougar/internal/config"
	"github.com/invowk/cougar/internal/issue"
	"github.com/invowk/cougar/internal/logging"
	"github.com/invowk/cougar/internal/services/health"
	"github.com/invowk/cougar/internal/transport/jsonrpc"
	"github.com/invowk/cougar/internal/transport/sshcmd"
)

type (
	serveFlags struct {
		httpAddr     string
		sshAddr      string
		sshHostKey   string
		sshAnonymous bool
		sshPrincipal string
	}

	// server is a network transport with a start/stop lifecycle.
	server interface {
		Start(ctx context.Context) error
		Stop(ctx context.Context) error
		Err() <-chan error
		Addr() string
	}

	// lifecycleTransport reports a transport's lifecycle state as its health.
	lifecycleTransport struct {
		health.Checker
		server server
	}
)

func newServeCommand(app *App) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the venue with its JSON-RPC and SSH transports",
		Long: `Run the venue until interrupted.

The JSON-RPC transport serves POST /rpc, GET /ws (subscriptions) and
GET /metrics. The SSH transport runs one operation per session. Empty
addresses disable a transport.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serve(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", "", "JSON-RPC listen address (overrides transport.http_addr)")
	cmd.Flags().StringVar(&flags.sshAddr, "ssh-addr", "", "SSH listen address (overrides transport.ssh_addr)")
	cmd.Flags().StringVar(&flags.sshHostKey, "ssh-host-key", "", "SSH host key file, created if missing (default: ephemeral)")
	cmd.Flags().BoolVar(&flags.sshAnonymous, "ssh-anonymous", false, "admit SSH callers without a token")
	cmd.Flags().StringVar(&flags.sshPrincipal, "ssh-principal", "operator", "principal for the SSH token printed at startup")
	return cmd
}

func (a *App) serve(ctx context.Context, flags serveFlags) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if flags.httpAddr != "" {
		cfg.Transport.HTTPAddr = flags.httpAddr
	}
	if flags.sshAddr != "" {
		cfg.Transport.SSHAddr = flags.sshAddr
	}

	logger, err := logging.New(a.stderr, config.AppName, cfg.Logging.Level)
	if err != nil {
		return err
	}
	rt, err := newVenueRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if err := rt.start(ctx); err != nil {
		return err
	}

	transports, err := a.startTransports(ctx, rt, flags)
	if err == nil {
		err = a.run(ctx, rt, transports)
	}

	drainCtx, cancel := rt.drainContext(ctx)
	defer cancel()
	for i := len(transports) - 1; i >= 0; i-- {
		err = errors.Join(err, transports[i].server.Stop(drainCtx))
	}
	err = errors.Join(err, rt.stop(drainCtx))
	logger.Info("stopped")
	return err
}

// startTransports starts the configured transports. On failure the ones
// already started are returned so the caller can stop them.
func (a *App) startTransports(ctx context.Context, rt *venueRuntime, flags serveFlags) ([]lifecycleTransport, error) {
	var started []lifecycleTransport
	cfg := rt.cfg

	if cfg.Transport.HTTPAddr != "" {
		opts := []jsonrpc.Option{
			jsonrpc.WithExecutor(rt.pool),
			jsonrpc.WithLogger(logging.Component(rt.logger, "jsonrpc")),
		}
		if rt.metrics != nil {
			opts = append(opts, jsonrpc.WithGatherer(rt.metrics))
		}
		srv := jsonrpc.New(cfg.Transport.HTTPAddr, rt.container, rt.container.Venue(), opts...)
		if err := srv.Start(ctx); err != nil {
			return started, transportError(err, "jsonrpc", "http-addr", cfg.Transport.HTTPAddr)
		}
		started = append(started, lifecycleTransport{Checker: health.LifecycleCheck(srv), server: srv})
		fmt.Fprintf(a.stdout, "%s %s\n", SubtitleStyle.Render("json-rpc"), CmdStyle.Render("http://"+srv.Addr()+"/rpc"))
	}

	if cfg.Transport.SSHAddr != "" {
		srv := sshcmd.New(sshcmd.Config{
			Addr:           cfg.Transport.SSHAddr,
			HostKeyPath:    flags.sshHostKey,
			AllowAnonymous: flags.sshAnonymous,
		}, rt.container, rt.container.Venue(),
			sshcmd.WithExecutor(rt.pool),
			sshcmd.WithLogger(logging.Component(rt.logger, "ssh")),
		)
		if err := srv.Start(ctx); err != nil {
			return started, transportError(err, "ssh", "ssh-addr", cfg.Transport.SSHAddr)
		}
		started = append(started, lifecycleTransport{Checker: health.LifecycleCheck(srv), server: srv})
		fmt.Fprintf(a.stdout, "%s %s\n", SubtitleStyle.Render("ssh     "), CmdStyle.Render(srv.Addr()))

		if !flags.sshAnonymous {
			tok, err := srv.IssueToken(flags.sshPrincipal)
			if err != nil {
				return started, err
			}
			fmt.Fprintf(a.stdout, "%s %s %s\n", SubtitleStyle.Render("ssh token"), SuccessStyle.Render(tok.Value),
				SubtitleStyle.Render("(principal "+tok.Principal+", expires "+tok.ExpiresAt.Format("15:04:05")+")"))
		}
	}

	for _, t := range started {
		rt.health.AddChecker(t)
	}
	return started, nil
}

// run blocks until ctx is cancelled or a transport fails.
func (a *App) run(ctx context.Context, rt *venueRuntime, transports []lifecycleTransport) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go rt.health.Watch(watchCtx, health.DefaultPollingTime)

	failed := make(chan error, len(transports))
	for _, t := range transports {
		go func() {
			select {
			case err, ok := <-t.server.Err():
				if ok && err != nil {
					failed <- fmt.Errorf("%s: %w", t.Name(), err)
				}
			case <-watchCtx.Done():
			}
		}()
	}

	rt.logger.Info("venue running", "operations", len(rt.container.Venue().Operations()))
	select {
	case <-ctx.Done():
		rt.logger.Info("shutting down")
		return nil
	case err := <-failed:
		rt.logger.Error("transport failed", "err", err)
		return err
	}
}

func transportError(err error, name, flag, addr string) error {
	return issue.NewErrorContext().
		WithOperation("start " + name + " transport").
		WithResource(addr).
		WithIssue(issue.TransportStartFailedId).
		WithSuggestion("Check that the address is free, or pick another with --" + flag).
		Wrap(err).
		BuildError()
}
