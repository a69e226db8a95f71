package config

import "reflect"

// ConfigDiff describes what changed between two configs. Session defaults,
// log level and rate limits apply without a restart; every other section is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when the default session configuration differs.
	// Only new sessions pick it up.
	SessionChanged bool

	LimitsChanged bool

	// RestartRequired names the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.LimitsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.SessionChanged = !reflect.DeepEqual(old.Session, new.Session)
	d.LimitsChanged = old.Limits.RequestsPerMinute != new.Limits.RequestsPerMinute ||
		old.Limits.TokensPerMinute != new.Limits.TokensPerMinute

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Gateway, new.Gateway) {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}
	if !reflect.DeepEqual(old.Auth, new.Auth) {
		d.RestartRequired = append(d.RestartRequired, "auth")
	}
	if old.Limits.MaxConcurrentResponses != new.Limits.MaxConcurrentResponses {
		d.RestartRequired = append(d.RestartRequired, "limits.max_concurrent_responses")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}
