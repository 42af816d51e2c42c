package errs

import (
	"errors"
	"fmt"
	"log/slog"
)

// Wrap prefixes err with msg. errors.Is and errors.As still see through it.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Root returns the innermost error of a single-unwrap chain. Joined errors
// stop the walk.
func Root(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

// Chain lists the messages from outermost to innermost. Branches of joined
// errors are walked depth first.
func Chain(err error) []string {
	if err == nil {
		return nil
	}
	out := make([]string, 0, 4)
	var walk func(error)
	walk = func(e error) {
		for e != nil {
			out = append(out, e.Error())
			if multi, ok := e.(interface{ Unwrap() []error }); ok {
				for _, branch := range multi.Unwrap() {
					walk(branch)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err)
	return out
}

type loggable struct{ err error }

// Loggable renders err as a slog group: slog.Any("err", errs.Loggable(err)).
func Loggable(err error) slog.LogValuer { return loggable{err: err} }

func (l loggable) LogValue() slog.Value {
	if l.err == nil {
		return slog.GroupValue()
	}
	attrs := []slog.Attr{slog.String("message", l.err.Error())}
	if chain := Chain(l.err); len(chain) > 1 {
		attrs = append(attrs, slog.Any("chain", chain))
	}
	if root := Root(l.err); root != nil {
		attrs = append(attrs, slog.String("root_type", fmt.Sprintf("%T", root)))
	}
	return slog.GroupValue(attrs...)
}
