package config

import (
	"os"
	"strings"
)

// DefaultEnvPaths are searched in order; the first readable file wins
var DefaultEnvPaths = []string{".env", "../.env", "../../.env"}

// LoadDotEnv loads KEY=VALUE lines from the first readable file in paths
// into the environment. Variables that are already set keep their value.
// It returns the file that was loaded, or "" when none was found.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = DefaultEnvPaths
	}

	for _, envPath := range paths {
		data, err := os.ReadFile(envPath)
		if err != nil {
			continue
		}

		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			line = strings.TrimPrefix(line, "export ")

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			value := unquote(strings.TrimSpace(parts[1]))

			// Only set if not already set
			if _, exists := os.LookupEnv(key); !exists {
				os.Setenv(key, value)
			}
		}
		return envPath
	}
	return ""
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
