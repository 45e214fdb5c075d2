package packages

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// scriptBuiltins are the names predeclared for step scripts.
var scriptBuiltins = map[string]bool{
	"struct":     true,
	"exec":       true,
	"query":      true,
	"log":        true,
	"plan":       true,
	"from_state": true,
	"to_state":   true,
}

// compileScript parses and resolves a step script so errors surface when
// the manifest is loaded rather than at boot.
func compileScript(filename, source string) (*starlark.Program, error) {
	_, prog, err := starlark.SourceProgram(filename, source, func(name string) bool {
		return scriptBuiltins[name]
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	return prog, nil
}

// ScriptAction returns a step action running prog. The script talks to the
// database through the exec and query builtins.
func ScriptAction(prog *starlark.Program) migrations.Action {
	return func(ctx context.Context, mc *migrations.Context) error {
		if mc.DB == nil {
			return fmt.Errorf("no database available to run script")
		}

		logger := mc.Logger
		thread := &starlark.Thread{
			Name: mc.Plan + ":" + mc.Step.To,
			Print: func(_ *starlark.Thread, msg string) {
				logger.Info().Str("source", "script").Msg(msg)
			},
		}

		predeclared := starlark.StringDict{
			"struct":     starlarkstruct.Default,
			"exec":       starlark.NewBuiltin("exec", execBuiltin(ctx, mc.DB)),
			"query":      starlark.NewBuiltin("query", queryBuiltin(ctx, mc.DB)),
			"log":        starlark.NewBuiltin("log", logBuiltin(mc)),
			"plan":       starlark.String(mc.Plan),
			"from_state": starlark.String(mc.Step.From),
			"to_state":   starlark.String(mc.Step.To),
		}

		if _, err := prog.Init(thread, predeclared); err != nil {
			if evalErr, ok := err.(*starlark.EvalError); ok {
				return fmt.Errorf("script failed: %s", evalErr.Backtrace())
			}
			return fmt.Errorf("script failed: %w", err)
		}
		return nil
	}
}

// execBuiltin implements exec(sql, *args) -> rows affected.
func execBuiltin(ctx context.Context, db migrations.Database) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		query, params, err := unpackStatement(b, args, kwargs)
		if err != nil {
			return nil, err
		}

		result, err := db.ExecContext(ctx, query, params...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("%s: failed to get rows affected: %w", b.Name(), err)
		}
		return starlark.MakeInt64(rows), nil
	}
}

// queryBuiltin implements query(sql, *args) -> list of dicts keyed by column.
func queryBuiltin(ctx context.Context, db migrations.Database) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		query, params, err := unpackStatement(b, args, kwargs)
		if err != nil {
			return nil, err
		}

		rows, err := db.QueryContext(ctx, query, params...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		var out []starlark.Value
		for rows.Next() {
			values := make([]interface{}, len(columns))
			ptrs := make([]interface{}, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, fmt.Errorf("%s: failed to scan row: %w", b.Name(), err)
			}

			row := starlark.NewDict(len(columns))
			for i, col := range columns {
				v, err := toStarlarkValue(values[i])
				if err != nil {
					return nil, fmt.Errorf("%s: column %s: %w", b.Name(), col, err)
				}
				if err := row.SetKey(starlark.String(col), v); err != nil {
					return nil, err
				}
			}
			out = append(out, row)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		return starlark.NewList(out), nil
	}
}

// logBuiltin implements log(msg).
func logBuiltin(mc *migrations.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
			return nil, err
		}
		mc.Logger.Info().Str("from", mc.Step.From).Str("to", mc.Step.To).Msg(msg)
		return starlark.None, nil
	}
}

func unpackStatement(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, []interface{}, error) {
	if len(kwargs) > 0 {
		return "", nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%s: missing SQL statement", b.Name())
	}

	query, ok := starlark.AsString(args[0])
	if !ok {
		return "", nil, fmt.Errorf("%s: statement must be a string, got %s", b.Name(), args[0].Type())
	}

	params := make([]interface{}, 0, len(args)-1)
	for i, arg := range args[1:] {
		v, err := fromStarlarkValue(arg)
		if err != nil {
			return "", nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
		}
		params = append(params, v)
	}
	return query, params, nil
}

// toStarlarkValue converts a database value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
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
	case []byte:
		return starlark.String(val), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339Nano)), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark statement argument to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Bytes:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
