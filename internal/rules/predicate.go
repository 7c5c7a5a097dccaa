package rules

import (
	"log"

	"github.com/google/cel-go/cel"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// EventPredicate evaluates a boolean condition over a SystemEvent, used by
// ThresholdWithinWindow and LatencyPercentile to restrict which events feed
// their state (e.g. "failures only").
type EventPredicate func(event model.SystemEvent) bool

// AlwaysTrue is the default predicate for rules with no filter expression.
func AlwaysTrue(model.SystemEvent) bool { return true }

// CompilePredicate builds an EventPredicate from a CEL boolean expression.
// The event's fields are exposed as "application", "operation", "failed",
// "error_message" and "parameters" (a dyn map). Compile/type-check/program
// errors are logged and fail open: the returned predicate always evaluates
// to true rather than silently dropping every event.
func CompilePredicate(expr string) EventPredicate {
	if expr == "" {
		return AlwaysTrue
	}

	env, err := cel.NewEnv(
		cel.Variable("application", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("failed", cel.BoolType),
		cel.Variable("error_message", cel.StringType),
		cel.Variable("parameters", cel.DynType),
	)
	if err != nil {
		log.Printf("[rules/predicate] cel env init error: %v; defaulting to pass-through", err)
		return AlwaysTrue
	}

	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		log.Printf("[rules/predicate] cel parse error for expr %q: %v; defaulting to pass-through", expr, iss.Err())
		return AlwaysTrue
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		log.Printf("[rules/predicate] cel type-check error for expr %q: %v; defaulting to pass-through", expr, iss.Err())
		return AlwaysTrue
	}
	prg, err := env.Program(checked)
	if err != nil {
		log.Printf("[rules/predicate] cel program error for expr %q: %v; defaulting to pass-through", expr, err)
		return AlwaysTrue
	}

	return func(event model.SystemEvent) bool {
		vars := map[string]any{
			"application":   event.Application,
			"operation":     event.Operation,
			"failed":        event.Failure != nil,
			"error_message": errorMessage(event),
			"parameters":    event.Parameters,
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			return true
		}
		if b, ok := out.Value().(bool); ok {
			return b
		}
		return true
	}
}

func errorMessage(event model.SystemEvent) string {
	if event.Failure == nil {
		return ""
	}
	return event.Failure.Message
}
