package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
)

func newTestLogger(opts Options) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	opts.ServiceName = "test"
	opts.Output = buf
	return New(opts), buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
	return line
}

func TestErrorCarriesContextFieldsAndStack(t *testing.T) {
	log, buf := newTestLogger(Options{Level: zerolog.DebugLevel})
	bidID := uuid.MustParse("3f1c2a8e-0000-4000-8000-000000000001")

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithBidID(ctx, bidID)
	log.Error(ctx, "boom", errors.New("boom"))

	line := decodeLine(t, buf)
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, bidID.String(), line["bid_id"])
	assert.Equal(t, "test", line["service"])
	assert.Contains(t, line, "stack")
}

func TestWarnStackToggle(t *testing.T) {
	loud, buf := newTestLogger(Options{WarnStack: true})
	loud.Warn(context.Background(), "warny")
	assert.Contains(t, decodeLine(t, buf), "stack")

	quiet, buf := newTestLogger(Options{})
	quiet.Warn(context.Background(), "warny")
	assert.NotContains(t, decodeLine(t, buf), "stack")
}

func TestWithFieldsDoesNotLeakIntoParentContext(t *testing.T) {
	log, buf := newTestLogger(Options{})

	parent := context.Background()
	_ = log.WithFields(parent, map[string]any{"project_id": "p-1"})
	log.Info(parent, "parent")

	assert.NotContains(t, decodeLine(t, buf), "project_id")
}

func TestWithFieldsIsDeterministic(t *testing.T) {
	log, buf := newTestLogger(Options{})

	ctx := log.WithFields(context.Background(), map[string]any{"zeta": 1, "alpha": 2, "mid": 3})
	log.Info(ctx, "ordered")

	line := buf.Bytes()
	a := bytes.Index(line, []byte(`"alpha"`))
	m := bytes.Index(line, []byte(`"mid"`))
	z := bytes.Index(line, []byte(`"zeta"`))
	assert.True(t, a >= 0 && a < m && m < z, string(line))
}

func TestErrorTagsTypedErrorsWithoutStack(t *testing.T) {
	log, buf := newTestLogger(Options{})

	log.Error(context.Background(), "conflict", pkgerrors.New(pkgerrors.CodeInvalidTransition, "bid is accepted"))
	line := decodeLine(t, buf)
	assert.Equal(t, "INVALID_TRANSITION", line["error_code"])
	assert.Equal(t, false, line["retryable"])
	assert.NotContains(t, line, "stack")

	buf.Reset()
	log.Error(context.Background(), "crash", pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("nil map"), "unexpected"))
	assert.Contains(t, decodeLine(t, buf), "stack")
}

func TestWarnErrIncludesCode(t *testing.T) {
	log, buf := newTestLogger(Options{})

	log.WarnErr(context.Background(), "poll failed", pkgerrors.New(pkgerrors.CodeNetwork, "timeout"))
	line := decodeLine(t, buf)
	assert.Equal(t, "NETWORK_ERROR", line["error_code"])
	assert.Equal(t, true, line["retryable"])
	assert.Equal(t, "warn", line["level"])
}

func TestLevelFiltersDebug(t *testing.T) {
	log, buf := newTestLogger(Options{Level: zerolog.InfoLevel})
	log.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
}

func TestConsoleFormatIsNotJSON(t *testing.T) {
	log, buf := newTestLogger(Options{Format: FormatConsole})
	log.Info(context.Background(), "hello")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseLevel(raw), raw)
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatConsole, ParseFormat(" Console "))
	assert.Equal(t, FormatJSON, ParseFormat(""))
	assert.Equal(t, FormatJSON, ParseFormat("logfmt"))
}
