package extensions

import (
	"fmt"
	"regexp"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var dangerousEnvKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// SubstituteEnv replaces ${VAR} occurrences in s using source, falling
// back to an empty string (plus a warning) for missing variables.
// Dangerous keys are never substituted, even if present in source.
func SubstituteEnv(s string, source map[string]string) (string, []string) {
	var warnings []string
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if dangerousEnvKeys[name] {
			warnings = append(warnings, fmt.Sprintf("refusing to substitute dangerous key %q", name))
			return ""
		}
		val, ok := source[name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("missing environment variable %q", name))
			return ""
		}
		return val
	})
	return out, warnings
}

// SubstituteEnvMap applies SubstituteEnv to every value in env, merging
// warnings across all keys.
func SubstituteEnvMap(env map[string]string, source map[string]string) (map[string]string, []string) {
	out := make(map[string]string, len(env))
	var warnings []string
	for k, v := range env {
		resolved, w := SubstituteEnv(v, source)
		out[k] = resolved
		warnings = append(warnings, w...)
	}
	return out, warnings
}

// SettingsEnv builds the EXTENSION_<NAME>_<SETTING> environment injection
// map for an extension's settings.
func SettingsEnv(extensionName string, settings map[string]string) map[string]string {
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[fmt.Sprintf("EXTENSION_%s_%s", envSafe(extensionName), envSafe(k))] = v
	}
	return out
}

func envSafe(s string) string {
	b := []byte(s)
	for i, c := range b {
		upper := c
		if upper >= 'a' && upper <= 'z' {
			upper -= 'a' - 'A'
		}
		if (upper >= 'A' && upper <= 'Z') || (upper >= '0' && upper <= '9') {
			b[i] = upper
		} else {
			b[i] = '_'
		}
	}
	return string(b)
}
