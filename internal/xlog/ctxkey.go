package xlog

import (
	"context"
	"log/slog"
	"slices"
)

// ctxkey is a Context key type, unexported so other packages cannot
// construct these values directly.
type ctxkey int

const (
	_ ctxkey = iota

	// AttrsKey retrieves the accumulated [slog.Attr] group from a
	// context via [context.Context.Value]. The value, if present, is a
	// [slog.Value] of kind Group.
	AttrsKey

	// LevelKey retrieves a per-record minimum [slog.Level] override.
	LevelKey
)

// With returns a context with args appended as [slog.Attr] at AttrsKey,
// deduplicating by key against any attributes already present (last
// write for a given key wins).
func With(ctx context.Context, args ...any) context.Context {
	return WithAttr(ctx, argsToAttrSlice(args)...)
}

// WithAttr returns a context with attrs stored at AttrsKey, merged with
// and deduplicated against any attrs already present.
func WithAttr(ctx context.Context, attrs ...slog.Attr) context.Context {
	if v, ok := ctx.Value(AttrsKey).(slog.Value); ok {
		attrs = append(v.Group(), attrs...)
	}
	seen := make(map[string]struct{}, len(attrs))
	del := func(a slog.Attr) bool {
		_, rm := seen[a.Key]
		seen[a.Key] = struct{}{}
		return rm || (a.Value.Kind() == slog.KindGroup && len(a.Value.Group()) == 0)
	}
	slices.Reverse(attrs)
	attrs = slices.DeleteFunc(attrs, del)
	slices.Reverse(attrs)

	return context.WithValue(ctx, AttrsKey, slog.GroupValue(attrs...))
}

// WithLevel returns a context with l stored as the per-record minimum
// level at LevelKey.
func WithLevel(ctx context.Context, l slog.Leveler) context.Context {
	return context.WithValue(ctx, LevelKey, l)
}

// The following mirrors the unexported helpers in [log/slog] that turn
// a Print-style argument list into []slog.Attr.

func argsToAttrSlice(args []any) []slog.Attr {
	var (
		attr  slog.Attr
		attrs []slog.Attr
	)
	for len(args) > 0 {
		attr, args = argsToAttr(args)
		attrs = append(attrs, attr)
	}
	return attrs
}

func argsToAttr(args []any) (slog.Attr, []any) {
	const badKey = `!BADKEY`
	switch x := args[0].(type) {
	case string:
		if len(args) == 1 {
			return slog.String(badKey, x), nil
		}
		return slog.Any(x, args[1]), args[2:]

	case slog.Attr:
		return x, args[1:]

	default:
		return slog.Any(badKey, x), args[1:]
	}
}
