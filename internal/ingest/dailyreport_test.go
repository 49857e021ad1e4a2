package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyReport = `IMEI: 860946063660255
CamID: WUH09
CSQ: 18
Temp: 26 Celsius Degree
Battery: 85%
SD: 1024/32768
GPS: N52*05'55" E005*07'31"
Date: 19/12/2025  16:21:42
Total Pics: 123
Send times: 120
`

func TestParseLegacyDailyReport(t *testing.T) {
	r, err := ParseDailyReport([]byte(legacyReport))
	require.NoError(t, err)

	assert.Equal(t, "860946063660255", r.IMEI)
	assert.Equal(t, "WUH09", r.CamID)

	require.NotNil(t, r.SignalStrength)
	assert.Equal(t, 18, *r.SignalStrength)
	require.NotNil(t, r.TemperatureC)
	assert.Equal(t, 26.0, *r.TemperatureC)
	require.NotNil(t, r.BatteryPercent)
	assert.Equal(t, 85, *r.BatteryPercent)

	require.NotNil(t, r.SDUsedPercent())
	assert.Equal(t, 3, *r.SDUsedPercent())

	require.NotNil(t, r.GPS)
	assert.InDelta(t, 52.0986, r.GPS.Lat, 0.001)
	assert.InDelta(t, 5.1253, r.GPS.Lon, 0.001)

	assert.Equal(t, time.Date(2025, 12, 19, 16, 21, 42, 0, time.UTC), r.ReportedAt)
	require.NotNil(t, r.TotalImages)
	assert.Equal(t, 123, *r.TotalImages)
	require.NotNil(t, r.SentImages)
	assert.Equal(t, 120, *r.SentImages)
}

func TestParseNewDailyReport(t *testing.T) {
	txt := "IMEI: 861943070068027\r\n" +
		"CSQ: 22\r\n" +
		"Temp: 19℃\r\n" +
		"Battery: 40%\r\n" +
		"SD: 16384/32768\r\n" +
		"GPS: 52.098737,5.125504\r\n" +
		"Date: 05/12/2025 15:46:07\r\n" +
		"Total: 42\r\n" +
		"Send: 40\r\n"

	r, err := ParseDailyReport([]byte(txt))
	require.NoError(t, err)

	assert.Equal(t, "861943070068027", r.IMEI)
	assert.Empty(t, r.CamID)
	require.NotNil(t, r.TemperatureC)
	assert.Equal(t, 19.0, *r.TemperatureC)
	require.NotNil(t, r.SDUsedPercent())
	assert.Equal(t, 50, *r.SDUsedPercent())
	require.NotNil(t, r.GPS)
	assert.InDelta(t, 52.098737, r.GPS.Lat, 1e-6)
	assert.InDelta(t, 5.125504, r.GPS.Lon, 1e-6)
	assert.Equal(t, time.Date(2025, 12, 5, 15, 46, 7, 0, time.UTC), r.ReportedAt)
}

func TestParseDailyReportMalformed(t *testing.T) {
	_, err := ParseDailyReport([]byte("Battery: 85%\nCSQ: 12\n"))
	re, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, ReasonReportMalformed, re.Reason)

	_, err = ParseDailyReport([]byte("IMEI: 123\nDate: not-a-date\n"))
	re, ok = AsReject(err)
	require.True(t, ok)
	assert.Equal(t, ReasonReportMalformed, re.Reason)
}
