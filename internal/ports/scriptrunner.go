package ports

import "context"

// ScriptRunner executes a named, pre-registered server-side script as one indivisible
// operation and returns its integer tuple result.
type ScriptRunner interface {
	RunScript(ctx context.Context, name string, keys []string, args ...any) ([]int64, error)
}
