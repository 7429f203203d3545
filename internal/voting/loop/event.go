package loop

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vietddude/juror/internal/core/domain"
)

// Event is a structured report from the loop. Cause is optional.
type Event struct {
	Level   slog.Level
	Message string
	Cause   error
	Attrs   []slog.Attr
}

func (r *Runner) emit(ctx context.Context, e Event) {
	attrs := make([]slog.Attr, 0, len(e.Attrs)+6)
	attrs = append(attrs, slog.String("run", r.id))
	attrs = append(attrs, e.Attrs...)

	var re *domain.RemoteError
	if e.Cause != nil {
		attrs = append(attrs, slog.String("error", e.Cause.Error()))
		if errors.As(e.Cause, &re) {
			attrs = append(attrs, slog.String("kind", string(re.Kind)))
			if re.Op != "" {
				attrs = append(attrs, slog.String("op", re.Op))
			}
			if re.Kind == domain.KindClassified {
				attrs = append(attrs, slog.Int("code", int(re.Code)))
			}
			if re.TransportDetail != "" {
				attrs = append(attrs, slog.String("transport", re.TransportDetail))
			}
		}
	}
	r.log.LogAttrs(ctx, e.Level, e.Message, attrs...)

	if re != nil && re.StackTrace != "" {
		r.log.LogAttrs(ctx, slog.LevelDebug, "Stack trace",
			slog.String("run", r.id), slog.String("stack", re.StackTrace))
	}
}
