package envvar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("env1", "val1")

	val := GetEnvOrDefault("env1", "defaultVal1")
	assert.Equal(t, "val1", val)

	val2 := GetEnvOrDefault("env2", "defaultVal2")
	assert.Equal(t, "defaultVal2", val2)
}

func TestReadBool(t *testing.T) {
	t.Setenv("boolEnv", " True ")
	assert.True(t, ReadBool("boolEnv"))

	t.Setenv("boolEnv", "no")
	assert.False(t, ReadBool("boolEnv"))

	assert.False(t, ReadBool("unsetBoolEnv"))
}

func TestReadIntOrDefault(t *testing.T) {
	t.Setenv("intEnv", "5")
	assert.Equal(t, 5, ReadIntOrDefault("intEnv", 3))

	t.Setenv("intEnv", "not-a-number")
	assert.Equal(t, 3, ReadIntOrDefault("intEnv", 3))

	assert.Equal(t, 3, ReadIntOrDefault("unsetIntEnv", 3))
}
