package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bitmakerla/estela-entrypoint/internal/model"
	"github.com/stretchr/testify/require"
)

func TestRecordJSON(t *testing.T) {
	t.Parallel()
	rec := model.NewRecord("J1", model.StreamStderr, "boom")
	rec.Time = time.Date(2024, 1, 2, 3, 4, 5, 500_000_000, time.UTC)

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{"jid":"J1","payload":{"log":"boom","datetime":1704164645.5,"stream":"stderr"}}`, string(b))

	var got model.Record
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, rec.JobID, got.JobID)
	require.Equal(t, rec.Stream, got.Stream)
	require.Equal(t, rec.Message, got.Message)
	require.WithinDuration(t, rec.Time, got.Time, time.Millisecond)
}
