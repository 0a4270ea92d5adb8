package config

import (
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "TERMRELAY"

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/var/lib/termrelay"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	OwnerHeader  string `envconfig:"OWNER_HEADER" default:"X-Owner-ID"`

	// Terminal session settings
	TerminalCommand         string        `envconfig:"TERMINAL_COMMAND" default:"/bin/bash -l"`
	TerminalWorkdir         string        `envconfig:"TERMINAL_WORKDIR" default:""`
	TerminalRows            uint16        `envconfig:"TERMINAL_ROWS" default:"24"`
	TerminalCols            uint16        `envconfig:"TERMINAL_COLS" default:"80"`
	TerminalSessionTimeout  time.Duration `envconfig:"TERMINAL_SESSION_TIMEOUT" default:"30m"`
	TerminalBufferSize      int           `envconfig:"TERMINAL_BUFFER_SIZE" default:"65536"`
	TerminalCloseTimeout    time.Duration `envconfig:"TERMINAL_CLOSE_TIMEOUT" default:"3s"`
	TerminalRecordingDir    string        `envconfig:"TERMINAL_RECORDING_DIR" default:""`
	TerminalCleanupSchedule string        `envconfig:"TERMINAL_CLEANUP_SCHEDULE" default:"@every 1m"`
	TerminalRateLimit       int           `envconfig:"TERMINAL_RATE_LIMIT" default:"200"`
	TerminalRateBurst       int           `envconfig:"TERMINAL_RATE_BURST" default:"200"`
	TerminalReplay          bool          `envconfig:"TERMINAL_REPLAY" default:"true"`

	// Audit trail
	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

// Parse reads settings from TERMRELAY_* environment variables.
func Parse() (Settings, error) {
	var s Settings
	err := envconfig.Process(envPrefix, &s)
	return s, err
}

func Load() {
	s, err := Parse()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg = s
}

// Command splits TerminalCommand into argv.
func (s Settings) Command() []string {
	return strings.Fields(s.TerminalCommand)
}

// ResolvedLogPath returns LogPath, falling back to a file under DataPath.
func (s Settings) ResolvedLogPath() string {
	if s.LogPath != "" {
		return s.LogPath
	}
	return s.DataPath + "/termrelay.log"
}
