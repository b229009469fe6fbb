// Package props implements the init-system property channel used to signal
// encryption state and service restarts.
//
// The Exec implementation shells out to the platform property tools; the
// Memory implementation backs tests and standalone runs. Both poll with an
// injected clock so wait loops are testable.
package props

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// PollInterval is the fixed interval between property polls.
const PollInterval = 50 * time.Millisecond

func pollUntil(clk clock.Clock, get func(string) string, key, expected string, timeout time.Duration) error {
	attempts := int(timeout / PollInterval)
	if attempts < 1 {
		attempts = 1
	}
	return retry.Call(retry.CallArgs{
		Func: func() error {
			if get(key) == expected {
				return nil
			}
			return fmt.Errorf("property %s is not yet %q", key, expected)
		},
		Attempts: attempts,
		Delay:    PollInterval,
		Clock:    clk,
	})
}

// Memory is an in-process property channel for tests and standalone runs.
type Memory struct {
	Clock clock.Clock

	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory property channel.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Memory{Clock: clk, values: make(map[string]string)}
}

// Get returns the current value of key, empty when unset.
func (m *Memory) Get(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Set publishes a value.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// WaitFor polls key until it reports expected or the timeout elapses.
func (m *Memory) WaitFor(key, expected string, timeout time.Duration) error {
	return pollUntil(m.Clock, m.Get, key, expected, timeout)
}

// Exec talks to the init system through the platform property tools.
type Exec struct {
	// GetterPath and SetterPath locate the property tools. Default to
	// "getprop" and "setprop" on PATH.
	GetterPath string
	SetterPath string

	// Clock drives WaitFor polling. Defaults to the wall clock.
	Clock clock.Clock

	log *slog.Logger
}

// NewExec creates an exec-backed property channel.
func NewExec(log *slog.Logger) *Exec {
	return &Exec{
		GetterPath: "getprop",
		SetterPath: "setprop",
		Clock:      clock.WallClock,
		log:        log,
	}
}

// Get returns the current value of key. Tool failures read as unset, which
// matches how the property store treats unknown keys.
func (e *Exec) Get(key string) string {
	out, err := exec.Command(e.GetterPath, key).Output()
	if err != nil {
		e.log.Debug("property read failed", "key", key, "err", err)
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Set publishes a value.
func (e *Exec) Set(key, value string) error {
	if err := exec.Command(e.SetterPath, key, value).Run(); err != nil {
		return fmt.Errorf("could not set property %s: %w", key, err)
	}
	return nil
}

// WaitFor polls key until it reports expected or the timeout elapses.
func (e *Exec) WaitFor(key, expected string, timeout time.Duration) error {
	return pollUntil(e.Clock, e.Get, key, expected, timeout)
}
