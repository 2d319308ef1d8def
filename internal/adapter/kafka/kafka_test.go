package kafka

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	frozen := time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	sample := domain.Sample{
		Date: time.Date(2020, time.May, 2, 0, 0, 0, 0, time.UTC),
		Features: domain.FeatureVector{
			MeanCAPE: 2500, WindSpeed: 5, DewpointDepression: 8,
		},
		Tornado: true,
	}

	msg, err := serializeToMessage("kansas_20200501_20200503_ab12cd34", "Kansas", sample)
	require.NoError(t, err)

	assert.Equal(t, []byte("kansas_20200501_20200503_ab12cd34/2020-05-02"), msg.Key)
	assert.Contains(t, string(msg.Value), `"tornado":true`)
	assert.Contains(t, string(msg.Value), `"mean_cape":2500`)

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "region", msg.Headers[0].Key)
	assert.Equal(t, []byte("Kansas"), msg.Headers[0].Value)
	assert.Equal(t, "produced_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2020-06-01T12:00:00Z"), msg.Headers[1].Value)
}
