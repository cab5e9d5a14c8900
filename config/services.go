package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ServiceMode names one role a process can run. APP_SERVICES selects any combination.
type ServiceMode string

const (
	ServiceModeHTTP   ServiceMode = "http"   // job API
	ServiceModeWorker ServiceMode = "worker" // generation worker pool
	ServiceModeReaper ServiceMode = "reaper" // lease recovery and retention
)

var serviceModes = []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}

// ValidServiceModes returns every role in start order.
func ValidServiceModes() []ServiceMode {
	return slices.Clone(serviceModes)
}

// ParseServices turns a comma list such as "http, worker" into a role set. Names are
// case-insensitive; blanks and repeats are ignored. An unknown name or an empty result
// is an error.
func ParseServices(list string) (map[ServiceMode]bool, error) {
	selected := make(map[ServiceMode]bool, len(serviceModes))
	for field := range strings.SplitSeq(list, ",") {
		name := strings.ToLower(strings.TrimSpace(field))
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		if !slices.Contains(serviceModes, mode) {
			return nil, fmt.Errorf("unknown service %q, expected one of %s", name, validModeList())
		}
		selected[mode] = true
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no services selected, expected one or more of %s", validModeList())
	}
	return selected, nil
}

func validModeList() string {
	names := make([]string, len(serviceModes))
	for i, m := range serviceModes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// WorkerConfig contains generation worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int `env:"CONCURRENCY" envDefault:"2"`

	// JobLease is how long a reservation stays valid without a heartbeat.
	JobLease time.Duration `env:"JOB_LEASE" envDefault:"2m"`

	// MaxAttempts is the default delivery budget for a job.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay is the first redelivery delay; later ones double.
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"5s"`

	// RetryMaxDelay caps the redelivery delay.
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5m"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 10*time.Second {
		w.JobLease = 10 * time.Second
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.RetryBaseDelay < time.Second {
		w.RetryBaseDelay = time.Second
	}
	if w.RetryMaxDelay < w.RetryBaseDelay {
		w.RetryMaxDelay = w.RetryBaseDelay
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`

	// JobRetention is how long terminal jobs are kept. Zero keeps them forever.
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"0"`

	// BatchSize is the maximum number of rows to delete per statement.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.JobRetention < 0 {
		r.JobRetention = 0
	}
	if r.JobRetention > 0 && r.JobRetention < time.Hour {
		r.JobRetention = time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
