package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresTaskID(t *testing.T) {
	t.Parallel()

	err := Event{}.Validate()
	require.Error(t, err)

	require.NoError(t, Event{TaskID: "job-1"}.Validate())
}

func TestDecodeKeepsAbsentFieldsNil(t *testing.T) {
	t.Parallel()

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(`{"task_id":"job-1","n":0}`), &evt))

	require.NotNil(t, evt.N, "explicit zero must survive decoding")
	require.Zero(t, *evt.N)
	require.Nil(t, evt.Total)
	require.Nil(t, evt.Desc)
	require.Nil(t, evt.Unit)
	require.Empty(t, evt.Status)
	require.Zero(t, evt.Timestamp)
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Event{TaskID: "job-1", Status: StatusStart})
	require.NoError(t, err)
	require.JSONEq(t, `{"task_id":"job-1","status":"start"}`, string(data))
}

func TestEpochSeconds(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 250_000_000).UTC()
	require.InDelta(t, 1700000000.25, EpochSeconds(at), 1e-9)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusClose.Terminal())
	require.True(t, StatusError.Terminal())
	require.False(t, StatusUpdate.Terminal())
	require.False(t, StatusStale.Terminal())
}
