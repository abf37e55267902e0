package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvConfigGetStringUsesDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("ROUCHDB_TEST_STRING_KEY")
	ec := NewEnvConfig("ROUCHDB")
	assert.Equal(t, "fallback", ec.GetString("TEST_STRING_KEY", "fallback"))
}

func TestEnvConfigGetStringReadsNamespacedVariable(t *testing.T) {
	t.Setenv("ROUCHDB_TEST_STRING_KEY", "value")
	ec := NewEnvConfig("ROUCHDB")
	assert.Equal(t, "value", ec.GetString("TEST_STRING_KEY", "fallback"))
}

func TestEnvConfigGetStringNoPrefixReadsBareVariable(t *testing.T) {
	t.Setenv("TEST_STRING_KEY", "bare")
	ec := NewEnvConfig("")
	assert.Equal(t, "bare", ec.GetString("TEST_STRING_KEY", "fallback"))
}

func TestEnvConfigGetIntParsesValidValue(t *testing.T) {
	t.Setenv("ROUCHDB_TEST_INT_KEY", "42")
	ec := NewEnvConfig("ROUCHDB")
	assert.Equal(t, 42, ec.GetInt("TEST_INT_KEY", 7))
}

func TestEnvConfigGetIntFallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("ROUCHDB_TEST_INT_KEY", "not-a-number")
	ec := NewEnvConfig("ROUCHDB")
	assert.Equal(t, 7, ec.GetInt("TEST_INT_KEY", 7))
}

func TestEnvConfigMustGetStringPanicsWhenUnset(t *testing.T) {
	os.Unsetenv("ROUCHDB_TEST_REQUIRED_KEY")
	ec := NewEnvConfig("ROUCHDB")
	assert.Panics(t, func() { ec.MustGetString("TEST_REQUIRED_KEY") })
}
