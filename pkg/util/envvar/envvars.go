package envvar

import (
	"os"
	"strings"

	"github.com/spf13/cast"
)

func GetEnvOrDefault(envVar, defaultValue string) string {
	if val, ok := os.LookupEnv(envVar); ok {
		return val
	}
	return defaultValue
}

// ReadBool returns the boolean value of an envvar of the given name.
func ReadBool(envVarName string) bool {
	envVar := GetEnvOrDefault(envVarName, "false")
	return strings.TrimSpace(strings.ToLower(envVar)) == "true"
}

// ReadIntOrDefault returns the integer value of an envvar of the given
// name, or the default when unset or unparseable.
func ReadIntOrDefault(envVarName string, defaultValue int) int {
	val, ok := os.LookupEnv(envVarName)
	if !ok {
		return defaultValue
	}
	parsed, err := cast.ToIntE(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return parsed
}
