package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterTop1RenormalizesIncluded(t *testing.T) {
	// Raw top-1 is roe_deer, but the project only includes fox and badger.
	scores := map[string]float64{
		"roe_deer": 0.90,
		"fox":      0.05,
		"badger":   0.03,
		"wild_boar": 0.02,
	}

	species, conf := FilterTop1(scores, []string{"fox", "badger"})
	assert.Equal(t, "fox", species)
	assert.InDelta(t, 0.05/(0.05+0.03), conf, 1e-9)
}

func TestFilterTop1EmptyListPermitsAll(t *testing.T) {
	scores := map[string]float64{"roe_deer": 0.9, "fox": 0.1}

	species, conf := FilterTop1(scores, nil)
	assert.Equal(t, "roe_deer", species)
	assert.Equal(t, 0.9, conf)
}

func TestFilterTop1AllMaskedFallsBack(t *testing.T) {
	scores := map[string]float64{"roe_deer": 0.7, "fox": 0.3}

	// Include list names no model class at all: configuration error.
	species, conf := FilterTop1(scores, []string{"unicorn"})
	assert.Equal(t, "roe_deer", species)
	assert.Equal(t, 0.7, conf)
}

func TestFilterTop1SingleIncluded(t *testing.T) {
	scores := map[string]float64{"roe_deer": 0.6, "fox": 0.4}

	species, conf := FilterTop1(scores, []string{"fox"})
	assert.Equal(t, "fox", species)
	// Only one retained class renormalizes to certainty.
	assert.InDelta(t, 1.0, conf, 1e-9)
}
