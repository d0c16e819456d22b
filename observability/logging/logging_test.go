package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesCoreFields(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setup(&buf, Options{Service: "ledgerd", Env: "test", Level: "debug"})
	logger.Debug("frame pushed", slog.Int("depth", 2))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "frame pushed", line["message"])
	require.Equal(t, "ledgerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 2, line["depth"])
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setup(&buf, Options{Service: "ledgerd", Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestMaskDSN(t *testing.T) {
	require.Equal(t, "postgres://ledger:"+RedactedValue+"@db:5432/receipts",
		MaskDSN("postgres://ledger:secret@db:5432/receipts"))
	require.Equal(t, "host=db user=ledger password="+RedactedValue+" dbname=receipts",
		MaskDSN("host=db user=ledger password=secret dbname=receipts"))
	require.Equal(t, "file:receipts.db?cache=shared", MaskDSN("file:receipts.db?cache=shared"))
	require.Equal(t, RedactedValue, MaskField("dsn", "secret").Value.String())
	require.Equal(t, "sqlite", MaskField("driver", "sqlite").Value.String())
}
