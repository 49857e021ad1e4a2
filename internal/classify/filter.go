package classify

import "log"

// FilterTop1 applies the project species filter to a full softmax: species
// outside the include list are masked, the remainder renormalized to sum to 1
// and the top-1 returned. An empty include list permits all model classes.
// If the filter masks everything (a configuration error) the unfiltered top-1
// is returned instead.
func FilterTop1(scores map[string]float64, included []string) (species string, confidence float64) {
	if len(included) == 0 {
		return top1(scores)
	}

	allowed := make(map[string]struct{}, len(included))
	for _, s := range included {
		allowed[s] = struct{}{}
	}

	var sum float64
	filtered := make(map[string]float64)
	for s, p := range scores {
		if _, ok := allowed[s]; ok {
			filtered[s] = p
			sum += p
		}
	}

	if sum == 0 {
		log.Printf("[Classifier] species filter masked every class, falling back to unfiltered top-1")
		return top1(scores)
	}

	species, confidence = top1(filtered)
	return species, confidence / sum
}

func top1(scores map[string]float64) (string, float64) {
	var bestSpecies string
	best := -1.0
	for s, p := range scores {
		if p > best || (p == best && s < bestSpecies) {
			bestSpecies = s
			best = p
		}
	}
	return bestSpecies, best
}
