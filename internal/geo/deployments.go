package geo

import "time"

// Sample is one chronological (time, position) observation of a camera.
type Sample struct {
	At       time.Time
	Lat, Lon float64
}

// Period is a clustered deployment interval at an averaged location.
// EndDate nil means the period is still open.
type Period struct {
	Lat, Lon  float64
	StartDate time.Time
	EndDate   *time.Time
}

// ClusterDeployments folds a chronological GPS stream into deployment
// periods: a new period opens whenever the distance to the previous sample
// exceeds the relocation threshold. Each period's location is the mean of its
// member samples. The final period stays open. Input must be sorted by time.
func ClusterDeployments(samples []Sample) []Period {
	if len(samples) == 0 {
		return nil
	}

	var periods []Period
	clusterStart := 0
	for i := 1; i <= len(samples); i++ {
		split := i == len(samples) ||
			DistanceM(samples[i-1].Lat, samples[i-1].Lon, samples[i].Lat, samples[i].Lon) > RelocationThresholdM
		if !split {
			continue
		}

		lat, lon := meanLocation(samples[clusterStart:i])
		p := Period{
			Lat:       lat,
			Lon:       lon,
			StartDate: samples[clusterStart].At,
		}
		if i < len(samples) {
			end := samples[i-1].At
			p.EndDate = &end
		}
		periods = append(periods, p)
		clusterStart = i
	}
	return periods
}

func meanLocation(cluster []Sample) (float64, float64) {
	var lat, lon float64
	for _, s := range cluster {
		lat += s.Lat
		lon += s.Lon
	}
	n := float64(len(cluster))
	return lat / n, lon / n
}
