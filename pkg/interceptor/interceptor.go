// SPDX-License-Identifier: MPL-2.0

package interceptor

import (
	"context"

	"github.com/invowk/cougar/pkg/execution"
	"github.com/invowk/cougar/pkg/operation"
)

type (
	// PreProcessor runs before the executable and may short-circuit it.
	PreProcessor interface {
		Name() string
		Requirement() Requirement
		Invoke(ctx context.Context, ec *execution.Context, key operation.Key, args []any) Result
	}

	// PostProcessor runs after the executable and may replace its result.
	PostProcessor interface {
		Name() string
		Invoke(ctx context.Context, ec *execution.Context, key operation.Key, args []any, result execution.Result) Result
	}

	// PreFunc is the body of a function-backed PreProcessor.
	PreFunc func(ctx context.Context, ec *execution.Context, key operation.Key, args []any) Result

	// PostFunc is the body of a function-backed PostProcessor.
	PostFunc func(ctx context.Context, ec *execution.Context, key operation.Key, args []any, result execution.Result) Result

	preFunc struct {
		name string
		req  Requirement
		fn   PreFunc
	}

	postFunc struct {
		name string
		fn   PostFunc
	}
)

// NewPre returns a PreProcessor backed by fn.
func NewPre(name string, req Requirement, fn PreFunc) PreProcessor {
	return &preFunc{name: name, req: req, fn: fn}
}

// NewPost returns a PostProcessor backed by fn.
func NewPost(name string, fn PostFunc) PostProcessor {
	return &postFunc{name: name, fn: fn}
}

func (p *preFunc) Name() string             { return p.name }
func (p *preFunc) Requirement() Requirement { return p.req }

func (p *preFunc) Invoke(ctx context.Context, ec *execution.Context, key operation.Key, args []any) Result {
	return p.fn(ctx, ec, key, args)
}

func (p *postFunc) Name() string { return p.name }

func (p *postFunc) Invoke(ctx context.Context, ec *execution.Context, key operation.Key, args []any, result execution.Result) Result {
	return p.fn(ctx, ec, key, args, result)
}
