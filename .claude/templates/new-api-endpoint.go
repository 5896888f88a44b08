// Template for a new platform command
// Usage: Copy this when adding a command to the closed command set.
// Steps: add the Cmd{Name} constant and {Name}Params struct in
// internal/core/commands.go, extend DecodeParams, then add the Execute
// case and handler below in internal/core/orchestrator.go.

package core

import (
	"context"

	"github.com/S-Corkum/caching-platform/internal/platform"
)

// {Name}Params are the arguments to {command_name}
type {Name}Params struct {
	Tenant string `json:"tenant"`
	// TODO: command-specific fields
}

// Execute case:
//
//	case Cmd{Name}:
//		p, ok := params.({Name}Params)
//		if !ok {
//			return badParams(cmd)
//		}
//		return o.{name}(ctx, p)

func (o *Orchestrator) {name}(ctx context.Context, p {Name}Params) Response {
	if p.Tenant == "" {
		return Fail(platform.New(platform.CodeInvalidArgument, "tenant is required"))
	}

	// TODO: delegate to the owning component; its error comes back
	// classified and Fail() maps it onto the response shape.
	result, err := o.tenants.{Method}(ctx, p.Tenant)
	if err != nil {
		return Fail(err)
	}

	return OK(map[string]interface{}{
		"result": result,
	})
}
