package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingLogger struct {
	entries []string
}

func (l *recordingLogger) Info(_ map[string]any, msg string)  { l.entries = append(l.entries, "INFO:"+msg) }
func (l *recordingLogger) Error(_ map[string]any, msg string) { l.entries = append(l.entries, "ERROR:"+msg) }
func (l *recordingLogger) Debug(_ map[string]any, msg string) { l.entries = append(l.entries, "DEBUG:"+msg) }
func (l *recordingLogger) Warn(_ map[string]any, msg string)  { l.entries = append(l.entries, "WARN:"+msg) }
func (l *recordingLogger) Panic(_ map[string]any, msg string) {}
func (l *recordingLogger) Fatal(_ map[string]any, msg string) {}

func TestGlobalHelpersRouteToSetLogger(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })

	rec := &recordingLogger{}
	SetLogger(rec)

	Info(nil, "info msg")
	Error(nil, "error msg")
	Debug(nil, "debug msg")
	Warn(map[string]any{"command": "help"}, "warn msg")

	assert.Equal(t, []string{
		"INFO:info msg",
		"ERROR:error msg",
		"DEBUG:debug msg",
		"WARN:warn msg",
	}, rec.entries)
}

func TestZapLogger_PanicPanics(t *testing.T) {
	l := newZapLogger(true, zap.DebugLevel)
	l.Debug(map[string]any{"a": 1, "b": true, "err": errors.New("boom")}, "debug")
	assert.Panics(t, func() { l.Panic(nil, "test panic") })
}

func TestConfigure(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })

	require.NoError(t, Configure("dev", "debug"))
	require.NoError(t, Configure("prod", "WARN"))
	assert.Error(t, Configure("dev", "notalevel"))
}

func TestZapFields_SortedAndErrorsNamed(t *testing.T) {
	fields := zapFields(map[string]any{
		"zeta":  1,
		"alpha": "x",
		"error": errors.New("boom"),
	})
	require.Len(t, fields, 3)
	assert.Equal(t, "alpha", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
	assert.Equal(t, "zeta", fields[2].Key)
	assert.Nil(t, zapFields(nil))
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, &noopLogger{}, OrNoop(nil))
	rec := &recordingLogger{}
	assert.Same(t, rec, OrNoop(rec))

	n := NewNoopLogger()
	n.Info(nil, "x")
	n.Panic(nil, "no panic")
	n.Fatal(nil, "no exit")
}
