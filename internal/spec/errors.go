package spec

import (
	"fmt"
	"strings"
)

// ConfigError reports every violation found while validating a set of process
// specs. A load that fails with a ConfigError applies nothing.
type ConfigError struct {
	Source     string
	Violations []string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		fmt.Fprintf(&b, "%s: ", e.Source)
	}
	switch len(e.Violations) {
	case 0:
		b.WriteString("invalid configuration")
	case 1:
		fmt.Fprintf(&b, "invalid configuration: %s", e.Violations[0])
	default:
		fmt.Fprintf(&b, "invalid configuration (%d violations):", len(e.Violations))
		for _, v := range e.Violations {
			b.WriteString("\n  - ")
			b.WriteString(v)
		}
	}
	return b.String()
}

// Add records a violation.
func (e *ConfigError) Add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// OrNil returns e when it holds violations and nil otherwise.
func (e *ConfigError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}
