package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		timeframe string
		want      time.Duration
		wantErr   bool
	}{
		{timeframe: "30s", want: 30 * time.Second},
		{timeframe: "1m", want: time.Minute},
		{timeframe: "15m", want: 15 * time.Minute},
		{timeframe: "4h", want: 4 * time.Hour},
		{timeframe: "1d", want: 24 * time.Hour},
		{timeframe: "1w", want: 7 * 24 * time.Hour},
		{timeframe: "1M", want: 2628000 * time.Second},
		{timeframe: "", wantErr: true},
		{timeframe: "m", wantErr: true},
		{timeframe: "15x", wantErr: true},
		{timeframe: "0m", wantErr: true},
		{timeframe: "-1h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			got, err := TimeframeDuration(tt.timeframe)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeframeMillis(t *testing.T) {
	got, err := TimeframeMillis("15m")
	require.NoError(t, err)
	assert.Equal(t, int64(900000), got)
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "2021-01-01 00:00:00", FormatMillis(1609459200000))
	assert.Equal(t, "2017-08-17 00:00:00", FormatMillis(1502928000000))
}

func TestParseDatetime(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		ms, err := ParseDatetime("2021-01-01 00:00:00")
		require.NoError(t, err)
		assert.Equal(t, int64(1609459200000), ms)
	})

	t.Run("invalid_format", func(t *testing.T) {
		_, err := ParseDatetime("2021-01-01T00:00:00Z")
		assert.Error(t, err)
	})
}
