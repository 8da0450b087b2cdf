// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/invowk/cougar/internal/config"
	"github.com/invowk/cougar/internal/issue"
	"github.com/invowk/cougar/internal/logging"
	"github.com/invowk/cougar/internal/transport/jsonrpc"
	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

type invokeFlags struct {
	timeout     time.Duration
	maxMessages int
	principal   string
}

func newInvokeCommand(app *App) *cobra.Command {
	var flags invokeFlags
	cmd := &cobra.Command{
		Use:   "invoke <key> [json-params]",
		Short: "Invoke an operation in-process",
		Long: `Start the venue in-process, invoke one operation and print its result
as JSON. Params are a JSON array (positional) or object (named).

Subscriptions print one message per line until they close, the message
limit is reached or the command is interrupted.`,
		Example: `  cougar invoke HealthService/v3.0/isHealthy
  cougar invoke 'HealthService/v3.0/subscribeHealth#event' --max-messages 1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := ""
			if len(args) == 2 {
				params = args[1]
			}
			return app.invoke(cmd.Context(), args[0], params, flags)
		},
	}
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "request expiry (0 means none)")
	cmd.Flags().IntVar(&flags.maxMessages, "max-messages", 0, "stop a subscription after this many messages (0 means unlimited)")
	cmd.Flags().StringVar(&flags.principal, "principal", "", "principal to invoke as")
	return cmd
}

func (a *App) invoke(ctx context.Context, rawKey, params string, flags invokeFlags) (err error) {
	key, err := operation.ParseKey(rawKey)
	if err != nil {
		return actionable(err, "parse operation key", rawKey)
	}

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if !a.verbose {
		level = log.WarnLevel.String()
	}
	logger, err := logging.New(a.stderr, config.AppName, level)
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
	defer func() {
		drainCtx, cancel := rt.drainContext(ctx)
		defer cancel()
		if stopErr := rt.stop(drainCtx); err == nil {
			err = stopErr
		}
	}()

	def, ok := rt.container.Venue().OperationDefinition(key)
	if !ok {
		def = operation.Definition{Key: key}
	}
	args, err := jsonrpc.DecodeParams(def, json.RawMessage(params))
	if err != nil {
		return &ExitError{Code: 1, Err: actionable(err, "decode params", key.String())}
	}

	ec := &execution.Context{Location: "cli", RequestTime: time.Now()}
	if flags.principal != "" {
		ec.IdentityTokens = []execution.IdentityToken{{Name: "User", Value: flags.principal}}
	}
	tc := execution.NoConstraints
	if flags.timeout > 0 {
		tc = execution.ExpiresIn(time.Now(), flags.timeout)
	}

	done := make(chan execution.Result, 1)
	rt.container.ExecuteWith(ctx, ec, key, args, execution.ObserverFunc(func(r execution.Result) {
		select {
		case done <- r:
		default:
		}
	}), rt.pool, tc)

	var res execution.Result
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	switch res.Kind() {
	case execution.ResultSuccess:
		return writeJSON(a.stdout, res.Value())
	case execution.ResultSubscription:
		return a.follow(ctx, res.Subscription(), flags.maxMessages)
	default:
		return &ExitError{Code: 1, Err: actionable(res.Fault(), "invoke", key.String())}
	}
}

// follow prints subscription messages until it closes, limit messages were
// printed or ctx ends.
func (a *App) follow(ctx context.Context, sub *execution.Subscription, limit int) error {
	n := 0
	for {
		select {
		case m, ok := <-sub.Messages():
			if !ok {
				_, reason := sub.Closed()
				fmt.Fprintln(a.stderr, SubtitleStyle.Render("subscription closed: "+string(reason)))
				return nil
			}
			if err := writeJSON(a.stdout, m); err != nil {
				sub.CloseWith(execution.CloseInternalError)
				return err
			}
			n++
			if limit > 0 && n >= limit {
				sub.Close()
				return nil
			}
		case <-ctx.Done():
			sub.Close()
			return nil
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return issue.NewErrorContext().
			WithOperation("encode result").
			WithIssue(issue.InvocationFailedId).
			Wrap(err).
			BuildError()
	}
	return nil
}
