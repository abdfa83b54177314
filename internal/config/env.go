package config

import "os"

// lookupEnv returns the raw value of an environment variable, or "".
func lookupEnv(key string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return ""
}
