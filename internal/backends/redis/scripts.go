package redis

import (
	"context"
	"embed"
	"fmt"
	"gatekeep/internal/metrics"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

//go:embed scripts/*.lua
var scriptFS embed.FS

// Names of the embedded scripts, one per scripts/<name>.lua file.
const (
	ScriptSlidingWindow   = "sliding_window"
	ScriptLockoutFailure  = "lockout_failure"
	ScriptLockoutCheck    = "lockout_check"
	ScriptReleaseIfHolder = "release_if_holder"
)

// ScriptRunner executes the embedded Lua scripts. Each call is one EVALSHA that falls
// back to EVAL when the server has lost its script cache, so a script always runs as a
// single indivisible step on the server.
type ScriptRunner struct {
	cli     redis.Scripter
	scripts map[string]*redis.Script
	rec     metrics.Recorder
}

func NewScriptRunner(cli redis.Scripter, rec metrics.Recorder) *ScriptRunner {
	entries, err := scriptFS.ReadDir("scripts")
	if err != nil {
		// The directory is embedded at build time.
		panic(err)
	}
	scripts := make(map[string]*redis.Script, len(entries))
	for _, e := range entries {
		src, err := scriptFS.ReadFile(path.Join("scripts", e.Name()))
		if err != nil {
			panic(err)
		}
		scripts[strings.TrimSuffix(e.Name(), ".lua")] = redis.NewScript(string(src))
	}
	return &ScriptRunner{
		cli:     cli,
		scripts: scripts,
		rec:     metrics.OrNoOp(rec),
	}
}

// Load pushes every script into the server cache so the first calls hit EVALSHA.
func (r *ScriptRunner) Load(ctx context.Context) error {
	for name, s := range r.scripts {
		if err := s.Load(ctx, r.cli).Err(); err != nil {
			return fmt.Errorf("load script %s: %w", name, err)
		}
	}
	log.WithField("scripts", len(r.scripts)).Debug("redis scripts loaded")
	return nil
}

func (r *ScriptRunner) RunScript(ctx context.Context, name string, keys []string, args ...any) ([]int64, error) {
	s, ok := r.scripts[name]
	if !ok {
		return nil, fmt.Errorf("unknown script %q", name)
	}
	start := time.Now()
	res, err := s.Run(ctx, r.cli, keys, args...).Result()
	tags := map[string]string{"script": name, "status": "ok"}
	if err != nil {
		tags["status"] = "error"
	}
	r.rec.Add(metrics.ScriptCalls, 1, tags)
	r.rec.Observe(metrics.ScriptTiming, time.Since(start).Seconds(), map[string]string{"script": name})
	if err != nil {
		return nil, err
	}
	return toInt64s(res)
}

func toInt64s(res any) ([]int64, error) {
	values, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid script response %T", res)
	}
	out := make([]int64, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case int64:
			out[i] = t
		case string:
			n, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid script response item %d: %w", i, err)
			}
			out[i] = n
		default:
			return nil, fmt.Errorf("invalid script response item %d: %T", i, v)
		}
	}
	return out, nil
}
