// internal/measurement/errors.go
package measurement

// ConfigurationError rejects a measurement before any hardware action.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Field + ": " + e.Reason
}
