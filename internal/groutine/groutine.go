// Package groutine starts named goroutines. The name is attached both as a pprof label and
// as a context value so that profiles and logs can attribute work to the event loop,
// transport monitors and timers.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn on a new goroutine labelled with name. A nil parent means context.Background().
//
//	groutine.Go(ctx, "ancs-loop", func(ctx context.Context) {
//	    l.run(ctx)
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// GetName returns the name given to Go, or "" when ctx was not produced by Go.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey).(string)
	return name
}

// GetGID returns the numeric id of the calling goroutine, parsed from its stack header.
// It is only meant for reentrancy checks and diagnostics.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
