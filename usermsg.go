package quarantine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// UserMessenger delivers status lines to the user, separately from the
// structured log. Session output owns stdout, so messages go to stderr.
type UserMessenger interface {
	Message(ctx context.Context, msg string)
}

type terminalMessenger struct {
	writer io.Writer
}

func NewTerminalMessenger(writer io.Writer) UserMessenger {
	return &terminalMessenger{writer: writer}
}

func (tm *terminalMessenger) Message(ctx context.Context, msg string) {
	if tm.writer == nil {
		slog.DebugContext(ctx, "userMsg (no writer)", "msg", msg)
		return
	}
	fmt.Fprintln(tm.writer, "\033[90m"+msg+"\033[0m")
}

type nullMessenger struct{}

func NewNullMessenger() UserMessenger {
	return &nullMessenger{}
}

func (nm *nullMessenger) Message(ctx context.Context, msg string) {
	slog.DebugContext(ctx, "userMsg (null messenger)", "msg", msg)
}
