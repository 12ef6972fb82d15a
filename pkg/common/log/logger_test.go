package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewZapLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
	)

	levels := []struct {
		tag string
		log func(string, ...interface{})
	}{
		{"[DEBUG]", logger.Debug},
		{"[INFO]", logger.Info},
		{"[WARN]", logger.Warn},
		{"[ERROR]", logger.Error},
	}

	for _, lv := range levels {
		lv.log("message at %s", lv.tag)
		assert.Contains(t, buf.String(), lv.tag)
		assert.Contains(t, buf.String(), "message at "+lv.tag)
		buf.Reset()
	}

	loggerWithFields := logger.WithFields(map[string]interface{}{
		"component": "test",
		"count":     123,
	})
	loggerWithFields.Info("Message with fields")
	output := buf.String()
	assert.Contains(t, output, "Message with fields")
	assert.Contains(t, output, `"component": "test"`)
	assert.Contains(t, output, `"count": 123`)
	buf.Reset()

	logger.WithField("module", "logger").Info("Message with a field")
	assert.Contains(t, buf.String(), `"module": "logger"`)
	buf.Reset()

	logger.SetLevel(LevelError)
	logger.Debug("This debug message should not appear")
	logger.Info("This info message should not appear")
	logger.Warn("This warning message should not appear")
	logger.Error("This error message should appear")
	output = buf.String()
	assert.NotContains(t, output, "should not appear")
	assert.Contains(t, output, "This error message should appear")
	assert.Equal(t, LevelError, logger.GetLevel())
}

func TestInitialFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(
		WithOutput(&buf),
		WithInitialFields(map[string]interface{}{"partition": "part-00003"}),
	)

	logger.Info("opened")
	assert.Contains(t, buf.String(), `"partition": "part-00003"`)
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{Level(99), "LEVEL(99)"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestDefaultLogger(t *testing.T) {
	original := GetDefaultLogger()
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	SetDefaultLogger(NewZapLogger(WithOutput(&buf)))

	Info("via default %d", 7)
	assert.Contains(t, buf.String(), "via default 7")

	SetLevel(LevelError)
	Warn("suppressed")
	assert.NotContains(t, buf.String(), "suppressed")
}
