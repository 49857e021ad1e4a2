package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDistanceM(t *testing.T) {
	// One degree of latitude is ~111.2 km everywhere.
	d := DistanceM(52.0, 13.0, 53.0, 13.0)
	require.InDelta(t, 111195, d, 200)

	require.Zero(t, DistanceM(52.5, 13.4, 52.5, 13.4))
}

func day(n int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestClusterDeploymentsSingleSite(t *testing.T) {
	// GPS jitter of ~11 m stays one open period.
	samples := []Sample{
		{At: day(0), Lat: 52.5000, Lon: 13.4000},
		{At: day(1), Lat: 52.5001, Lon: 13.4000},
		{At: day(2), Lat: 52.5000, Lon: 13.4001},
	}
	periods := ClusterDeployments(samples)
	require.Len(t, periods, 1)
	require.Equal(t, day(0), periods[0].StartDate)
	require.Nil(t, periods[0].EndDate)
	require.InDelta(t, 52.50003, periods[0].Lat, 0.0001)
}

func TestClusterDeploymentsSplitsOnRelocation(t *testing.T) {
	// A ~720 m move between day 2 and day 3 closes the first period and
	// opens a second one at the new site.
	samples := []Sample{
		{At: day(0), Lat: 52.5000, Lon: 13.4000},
		{At: day(1), Lat: 52.5001, Lon: 13.4001},
		{At: day(2), Lat: 52.5000, Lon: 13.4000},
		{At: day(3), Lat: 52.5065, Lon: 13.4000},
		{At: day(4), Lat: 52.5066, Lon: 13.4001},
	}
	periods := ClusterDeployments(samples)
	require.Len(t, periods, 2)

	require.Equal(t, day(0), periods[0].StartDate)
	require.NotNil(t, periods[0].EndDate)
	require.Equal(t, day(2), *periods[0].EndDate)

	require.Equal(t, day(3), periods[1].StartDate)
	require.Nil(t, periods[1].EndDate)
	require.InDelta(t, 52.50655, periods[1].Lat, 0.0001)
}

func TestClusterDeploymentsEmpty(t *testing.T) {
	require.Nil(t, ClusterDeployments(nil))
}
