package util

import (
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging backed by pterm's default logger. Each call takes a message
// followed by alternating key/value pairs, e.g.
//
//	util.LogInfo("peer joined", "room", util.RoomTag(room), "role", role)

func LogDebug(msg string, kv ...any) {
	pterm.DefaultLogger.Debug(msg, pterm.DefaultLogger.Args(kv...))
}

func LogInfo(msg string, kv ...any) {
	pterm.DefaultLogger.Info(msg, pterm.DefaultLogger.Args(kv...))
}

func LogWarning(msg string, kv ...any) {
	pterm.DefaultLogger.Warn(msg, pterm.DefaultLogger.Args(kv...))
}

func LogError(msg string, kv ...any) {
	pterm.DefaultLogger.Error(msg, pterm.DefaultLogger.Args(kv...))
}

// LogSuccess prints a highlighted line for milestones the user waits on.
func LogSuccess(msg string) {
	pterm.Success.Println(msg)
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects all log output, mainly so tests can silence it.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
