package core

import (
	"fmt"
	"strings"
	"time"
)

// PriorityLevel is the urgency of a task. Smaller values are more urgent.
type PriorityLevel int

const (
	// NoPriority is the zero value. It is not schedulable.
	NoPriority PriorityLevel = iota

	// ImmediatePriority tasks are expired on arrival and run before anything
	// that has not yet expired.
	ImmediatePriority

	// UserBlockingPriority is for work the user is waiting on (input feedback).
	UserBlockingPriority

	// NormalPriority is the default.
	NormalPriority

	// LowPriority is for work that can wait several seconds.
	LowPriority

	// IdlePriority tasks effectively never expire.
	IdlePriority
)

// maxSigned31BitInt milliseconds is the idle timeout; roughly 12.4 days.
const maxSigned31BitInt = 1073741823

// Timeouts per priority level. A task's expiration time is its start time
// plus the timeout of its level.
const (
	ImmediatePriorityTimeout    = -1 * time.Millisecond
	UserBlockingPriorityTimeout = 250 * time.Millisecond
	NormalPriorityTimeout       = 5000 * time.Millisecond
	LowPriorityTimeout          = 10000 * time.Millisecond
	IdlePriorityTimeout         = maxSigned31BitInt * time.Millisecond
)

var priorityNames = map[PriorityLevel]string{
	NoPriority:           "none",
	ImmediatePriority:    "immediate",
	UserBlockingPriority: "user-blocking",
	NormalPriority:       "normal",
	LowPriority:          "low",
	IdlePriority:         "idle",
}

// Priorities returns the schedulable levels, most urgent first.
func Priorities() []PriorityLevel {
	return []PriorityLevel{
		ImmediatePriority,
		UserBlockingPriority,
		NormalPriority,
		LowPriority,
		IdlePriority,
	}
}

// TimeoutFor returns the maximum acceptable wait for a task at level.
// NoPriority and unknown levels return ErrInvalidPriority.
func TimeoutFor(level PriorityLevel) (time.Duration, error) {
	switch level {
	case ImmediatePriority:
		return ImmediatePriorityTimeout, nil
	case UserBlockingPriority:
		return UserBlockingPriorityTimeout, nil
	case NormalPriority:
		return NormalPriorityTimeout, nil
	case LowPriority:
		return LowPriorityTimeout, nil
	case IdlePriority:
		return IdlePriorityTimeout, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, int(level))
	}
}

// IsValid reports whether level can be scheduled.
func (p PriorityLevel) IsValid() bool {
	return p >= ImmediatePriority && p <= IdlePriority
}

func (p PriorityLevel) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority resolves a level by name ("user-blocking", "UserBlocking"
// and "user_blocking" are equivalent).
func ParsePriority(s string) (PriorityLevel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	if key == "userblocking" {
		key = "user-blocking"
	}
	for level, name := range priorityNames {
		if name == key && level.IsValid() {
			return level, nil
		}
	}
	return NoPriority, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p PriorityLevel) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PriorityLevel) UnmarshalText(b []byte) error {
	level, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = level
	return nil
}
