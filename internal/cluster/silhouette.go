package cluster

// silhouetteScore is the mean silhouette coefficient over all points: for each
// point, (b-a)/max(a,b) where a is the mean distance to its own cluster and b
// the smallest mean distance to any other cluster. Points alone in their
// cluster contribute 0. Higher is better separated; the value guides the
// choice of k and is reported, never enforced.
func silhouetteScore(data [][]float64, labels []int, k int) float64 {
	n := len(data)
	if n < 2 || k < 2 {
		return 0
	}

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	total := 0.0
	sums := make([]float64, k)
	for i := 0; i < n; i++ {
		for c := range sums {
			sums[c] = 0
		}
		for j := 0; j < n; j++ {
			if j != i {
				sums[labels[j]] += euclidean(data[i], data[j])
			}
		}

		own := labels[i]
		if counts[own] < 2 {
			continue // silhouette of a singleton is defined as 0
		}
		a := sums[own] / float64(counts[own]-1)

		b := -1.0
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			mean := sums[c] / float64(counts[c])
			if b < 0 || mean < b {
				b = mean
			}
		}
		if b < 0 {
			continue
		}

		max := a
		if b > max {
			max = b
		}
		if max > 0 {
			total += (b - a) / max
		}
	}
	return total / float64(n)
}
