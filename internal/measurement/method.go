// internal/measurement/method.go
package measurement

import (
	"fmt"
	"strings"
)

// Method is one entry of the measurement method registry.
type Method struct {
	Name       string
	ClosedLoop bool
	Capability uint8 // bit index in the drive capability mask
}

// MethodSupporter reports whether a device can run a method.
type MethodSupporter interface {
	SupportsMethod(m Method) bool
}

// ResolveMethod picks the method called name among the registry entries the
// device supports. Zero or several matches is a configuration error.
func ResolveMethod(registry []Method, dev MethodSupporter, name string) (Method, error) {
	var (
		matches   []Method
		supported []string
	)
	for _, m := range registry {
		if !dev.SupportsMethod(m) {
			continue
		}
		supported = append(supported, m.Name)
		if m.Name == name {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Method{}, &ConfigurationError{
			Field:  "method",
			Reason: fmt.Sprintf("%q is not supported by the axis (supported: %s)", name, strings.Join(supported, ", ")),
		}
	default:
		return Method{}, &ConfigurationError{
			Field:  "method",
			Reason: fmt.Sprintf("%q is ambiguous: %d supported methods share the name", name, len(matches)),
		}
	}
}
