package config

import (
	"time"

	"github.com/vietddude/juror/internal/core/delay"
	"github.com/vietddude/juror/internal/infra/jury"
	"github.com/vietddude/juror/internal/infra/notify"
	redisclient "github.com/vietddude/juror/internal/infra/redis"
	"github.com/vietddude/juror/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Session  SessionConfig      `yaml:"session"`
	Jury     JuryConfig         `yaml:"jury"`
	Client   jury.Config        `yaml:"client"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	History  HistoryConfig      `yaml:"history"`
	Notify   notify.Config      `yaml:"notify"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"`
}

// SessionConfig holds the credential bundle.
type SessionConfig struct {
	Cookie string `yaml:"cookie"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// HistoryConfig controls how long vote and run history is kept.
type HistoryConfig struct {
	Retention   time.Duration `yaml:"retention"`    // 0 = keep forever
	JournalSize int64         `yaml:"journal_size"` // max votes kept in the Redis journal
}

// JuryConfig holds the workflow settings. It is read once when a run starts.
type JuryConfig struct {
	Repeat        int     `yaml:"repeat"`         // < 0 = unbounded
	Vote          []int   `yaml:"vote"`           // fallback option positions, sampled
	Opinion       bool    `yaml:"opinion"`        // use peer opinions
	OpinionMin    float64 `yaml:"opinion_min"`    // weighted total the top opinion needs
	NotOpinion    []int   `yaml:"not_opinion"`    // option positions opinions may not pick
	WaitTime      int     `yaml:"wait_time"`      // minutes to wait when no case is left
	InsiderWeight float64 `yaml:"insider_weight"` // weight of a non-insider opinion
	Insiders      []int   `yaml:"insiders"`       // watch-video flag pool
	Anonymous     []int   `yaml:"anonymous"`      // anonymity flag pool
	Async         bool    `yaml:"async"`          // run detached, result only logged
	ErrorBudget   int     `yaml:"error_budget"`

	ConfirmDelay     delay.Window `yaml:"confirm_delay"`
	ErrorBackoff     delay.Window `yaml:"error_backoff"`
	ExceptionBackoff delay.Window `yaml:"exception_backoff"`
}

// WaitDuration returns the no-new-case wait.
func (j JuryConfig) WaitDuration() time.Duration {
	return time.Duration(j.WaitTime) * time.Minute
}

// DefaultJury returns the default workflow settings.
func DefaultJury() JuryConfig {
	return JuryConfig{
		Repeat:           999,
		Vote:             []int{0, 0, 1},
		Opinion:          true,
		OpinionMin:       3,
		NotOpinion:       []int{3},
		WaitTime:         20,
		InsiderWeight:    0.8,
		Insiders:         []int{0, 1},
		Anonymous:        []int{0, 1},
		ErrorBudget:      3,
		ConfirmDelay:     delay.Window{Min: 12222 * time.Millisecond, Max: 17777 * time.Millisecond},
		ErrorBackoff:     delay.Window{Min: 20 * time.Second, Max: 40 * time.Second},
		ExceptionBackoff: delay.Window{Min: 5 * time.Second, Max: 10 * time.Second},
	}
}
