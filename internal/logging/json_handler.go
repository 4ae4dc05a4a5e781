package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			if err, ok := attr.Value.Any().(error); ok && attr.Value.Kind() == slog.KindAny {
				attr.Value = slog.StringValue(err.Error())
			}
			return attr
		},
	}
	return kindTagger{next: slog.NewJSONHandler(w, &opts)}
}

// kindTagger adds error_kind to records that carry an error attribute but
// were not tagged by the caller, so JSON logs can be filtered by kind.
type kindTagger struct {
	next   slog.Handler
	tagged bool
}

func (h kindTagger) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h kindTagger) Handle(ctx context.Context, record slog.Record) error {
	if h.tagged {
		return h.next.Handle(ctx, record)
	}
	var found error
	tagged := false
	record.Attrs(func(attr slog.Attr) bool {
		switch {
		case attr.Key == FieldErrorKind:
			tagged = true
			return false
		case found == nil && attr.Value.Kind() == slog.KindAny:
			if err, ok := attr.Value.Any().(error); ok {
				found = err
			}
		}
		return true
	})
	if found != nil && !tagged {
		record.AddAttrs(ErrorKind(found))
	}
	return h.next.Handle(ctx, record)
}

func (h kindTagger) WithAttrs(attrs []slog.Attr) slog.Handler {
	tagged := h.tagged || HasAttrKey(attrs, FieldErrorKind)
	return kindTagger{next: h.next.WithAttrs(attrs), tagged: tagged}
}

func (h kindTagger) WithGroup(name string) slog.Handler {
	return kindTagger{next: h.next.WithGroup(name), tagged: h.tagged}
}
