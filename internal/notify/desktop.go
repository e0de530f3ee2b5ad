package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// desktopTimeout bounds how long a notification helper may block the end of a run
const desktopTimeout = 5 * time.Second

// desktopLines is how many summary lines fit in a desktop notification
const desktopLines = 4

// DesktopNotifier shows run summaries through the OS notification helper
// (osascript on macOS, notify-send on Linux)
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send shows the notification; other platforms are ignored
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	var cmd []string
	switch runtime.GOOS {
	case "darwin":
		cmd = []string{"osascript", "-e", AppleScript(n)}
	case "linux":
		cmd = []string{"notify-send", "--app-name", "ob1", "--icon", IconForType(n.Type), n.Title, DesktopBody(n.Message)}
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), desktopTimeout)
	defer cancel()
	return exec.CommandContext(ctx, cmd[0], cmd[1:]...).Run()
}

// DesktopBody shortens a multi-line summary to what a notification bubble shows
func DesktopBody(message string) string {
	lines := strings.Split(message, "\n")
	if len(lines) <= desktopLines {
		return message
	}
	more := len(lines) - desktopLines + 1
	return strings.Join(lines[:desktopLines-1], "\n") + "\n… and " + strconv.Itoa(more) + " more"
}

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// AppleScript builds the osascript program for a notification
func AppleScript(n Notification) string {
	return `display notification "` + appleScriptEscaper.Replace(DesktopBody(n.Message)) +
		`" with title "` + appleScriptEscaper.Replace(n.Title) + `"`
}

// IconForType returns a freedesktop icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
