package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultEvalTimeout bounds a single generator script run.
const DefaultEvalTimeout = 30 * time.Second

// StarlarkEvaluator runs generator scripts in a sandboxed Starlark
// interpreter. Scripts see their vars as predeclared globals and
// export computed values as module globals; no filesystem, network,
// or process access is available to them.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult holds the globals a script exported. Names starting
// with an underscore are treated as script-private and omitted.
type StarlarkResult struct {
	Globals map[string]interface{} `json:"globals"`
}

// NewStarlarkEvaluator creates an evaluator with the default timeout.
func NewStarlarkEvaluator() *StarlarkEvaluator {
	return &StarlarkEvaluator{timeout: DefaultEvalTimeout}
}

// SetTimeout overrides the evaluation timeout.
func (e *StarlarkEvaluator) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// Evaluate runs a script with the given input values predeclared and
// returns its exported globals. The script is cancelled when ctx ends
// or the timeout elapses.
func (e *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "generator",
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug().Str("component", "starlark").Msg(msg)
		},
	}

	var (
		result *StarlarkResult
		err    error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err = e.evaluateSync(thread, script, input)
	}()

	select {
	case <-done:
		return result, err
	case <-evalCtx.Done():
		// Cancel interrupts the interpreter loop, so the goroutine
		// finishes promptly even for a runaway script.
		thread.Cancel("evaluation cancelled")
		<-done
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("script evaluation timed out after %v", e.timeout)
		}
		return nil, evalCtx.Err()
	}
}

// GenerateUnits runs a generator script and returns the unit documents
// from its exported "units" global.
func (e *StarlarkEvaluator) GenerateUnits(ctx context.Context, script string, vars map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := e.Evaluate(ctx, script, vars)
	if err != nil {
		return nil, err
	}

	raw, ok := result.Globals["units"]
	if !ok {
		return nil, fmt.Errorf("script exports no units list")
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("units must be a list, got %s", starlarkTypeName(raw))
	}

	units := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		doc, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("units[%d] must be a dict, got %s", i, starlarkTypeName(item))
		}
		units = append(units, doc)
	}
	return units, nil
}

func (e *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, script string, input map[string]interface{}) (*StarlarkResult, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, value := range input {
		converted, err := toStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = converted
	}

	globals, err := starlark.ExecFile(thread, "generator.star", script, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("script failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}

	result := &StarlarkResult{Globals: make(map[string]interface{}, len(globals))}
	for name, value := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		converted, err := fromStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		result.Globals[name] = converted
	}
	return result, nil
}

// toStarlarkValue converts a Go value into its Starlark equivalent.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		items := make([]starlark.Value, 0, len(val))
		for _, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, converted)
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for key, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, fmt.Errorf("failed to set key %s: %w", key, err)
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back into a Go value
// suitable for JSON encoding.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s overflows int64", val.String())
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]interface{}, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]interface{}, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0].String())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	case *starlarkstruct.Struct:
		dict := starlark.StringDict{}
		val.ToStringDict(dict)
		out := make(map[string]interface{}, len(dict))
		for name, field := range dict {
			value, err := fromStarlarkValue(field)
			if err != nil {
				return nil, err
			}
			out[name] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}

// starlarkTypeName names a converted value's original shape for error
// messages.
func starlarkTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}
