package logger

import (
	"testing"

	"futures-trade-assistant/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(config.Logger{Level: "debug", Format: "json"})
	assert.NoError(t, err)
	assert.NotNil(t, log)

	log, err = NewLogger(config.Logger{Level: "info", Format: "console"})
	assert.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger(config.Logger{Level: "loud"})
	assert.Error(t, err)
}
