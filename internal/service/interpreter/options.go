package interpreter

import (
	"os"
	"path/filepath"
	"time"
)

// Defaults for Options fields left zero.
const (
	DefaultMaxInlineRows   = 1000
	DefaultMaxSpillRows    = 100000
	DefaultMaxLimit        = 100000
	DefaultResultRetention = 48 * time.Hour
	DefaultConcurrency     = 5
	DefaultTaskTTL         = 4 * time.Hour
	DefaultSweepInterval   = 10 * time.Minute
)

// Options configures an Interpreter.
type Options struct {
	MaxInlineRows   int
	MaxSpillRows    int
	MaxLimit        int
	ResultDir       string
	ResultRetention time.Duration
	ACLEnabled      bool
	Concurrency     int
	TaskTTL         time.Duration
	SweepInterval   time.Duration
	Session         SessionConfig
}

func (o Options) withDefaults() Options {
	if o.MaxInlineRows <= 0 {
		o.MaxInlineRows = DefaultMaxInlineRows
	}
	if o.MaxSpillRows <= 0 {
		o.MaxSpillRows = DefaultMaxSpillRows
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = DefaultMaxLimit
	}
	if o.ResultDir == "" {
		o.ResultDir = filepath.Join(os.TempDir(), "presto-notebook")
	}
	if o.ResultRetention <= 0 {
		o.ResultRetention = DefaultResultRetention
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.TaskTTL <= 0 {
		o.TaskTTL = DefaultTaskTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	return o
}
