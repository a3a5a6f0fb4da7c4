// Package obslog assigns one echa/log logger per subsystem, the same
// pattern cmd/tzcompose uses for its MAIN/RPC/TASK loggers.
package obslog

import "github.com/echa/log"

var (
	Ledger      = log.NewLogger("LEDG")
	Policy      = log.NewLogger("POLY")
	Oracle      = log.NewLogger("ORCL")
	Scheduler   = log.NewLogger("SCHD")
	Reconciler  = log.NewLogger("RECN")
	Admission   = log.NewLogger("ADMN")
	HTTP        = log.NewLogger("HTTP")

	subsystems = map[string]log.Logger{
		"LEDG": Ledger,
		"POLY": Policy,
		"ORCL": Oracle,
		"SCHD": Scheduler,
		"RECN": Reconciler,
		"ADMN": Admission,
		"HTTP": HTTP,
	}
)

// SetLevel sets the log level for every subsystem logger at once. It is
// called once at startup from the level resolved out of LOG_LEVEL.
func SetLevel(lvl log.Level) {
	for _, l := range subsystems {
		l.SetLevel(lvl)
	}
}

// ParseLevel maps the LOG_LEVEL environment value onto an echa/log level,
// defaulting to Info on an unrecognized value.
func ParseLevel(s string) log.Level {
	switch s {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "fatal":
		return log.LevelFatal
	case "off", "none":
		return log.LevelOff
	default:
		return log.LevelInfo
	}
}
