// Package cluster discovers behavioral groupings in a batch's trait vectors
// and labels each group with its best-matching archetype.
package cluster

import (
	"math"
	"math/rand"
	"sync"
)

type kmeansRun struct {
	labels    []int
	centroids [][]float64
	inertia   float64
}

// runKMeans clusters data into k groups with k-means++ seeding and Lloyd
// iterations, repeated over independent restarts; the lowest-inertia run wins.
// Each restart derives its own deterministic source from the base seed, so
// results are reproducible for a fixed seed even though restarts execute in
// parallel.
func runKMeans(data [][]float64, k, restarts, maxIter int, seed int64) kmeansRun {
	if restarts < 1 {
		restarts = 1
	}
	runs := make([]kmeansRun, restarts)

	var wg sync.WaitGroup
	for r := 0; r < restarts; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(r)))
			runs[r] = lloyd(data, k, maxIter, rng)
		}(r)
	}
	wg.Wait()

	best := runs[0]
	for _, run := range runs[1:] {
		if run.inertia < best.inertia {
			best = run
		}
	}
	return best
}

func lloyd(data [][]float64, k, maxIter int, rng *rand.Rand) kmeansRun {
	n := len(data)
	dims := len(data[0])
	centroids := seedPlusPlus(data, k, rng)
	labels := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, point := range data {
			best := nearestCentroid(point, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, point := range data {
			counts[labels[i]]++
			for d, v := range point {
				sums[labels[i]][d] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster on the point farthest from its
				// centroid, so every cluster id stays populated.
				centroids[c] = append([]float64(nil), farthestPoint(data, labels, centroids)...)
				changed = true
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	inertia := 0.0
	for i, point := range data {
		inertia += squaredDistance(point, centroids[labels[i]])
	}
	return kmeansRun{labels: labels, centroids: centroids, inertia: inertia}
}

// seedPlusPlus picks initial centroids with probability proportional to the
// squared distance from the nearest already-chosen centroid.
func seedPlusPlus(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := rng.Intn(len(data))
	centroids = append(centroids, append([]float64(nil), data[first]...))

	dist := make([]float64, len(data))
	for len(centroids) < k {
		total := 0.0
		for i, point := range data {
			dist[i] = squaredDistance(point, centroids[nearestCentroid(point, centroids)])
			total += dist[i]
		}
		if total == 0 {
			// All remaining points coincide with a centroid; duplicate one.
			centroids = append(centroids, append([]float64(nil), data[rng.Intn(len(data))]...))
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		pick := len(data) - 1
		for i := range data {
			acc += dist[i]
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), data[pick]...))
	}
	return centroids
}

func nearestCentroid(point []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(point, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthestPoint(data [][]float64, labels []int, centroids [][]float64) []float64 {
	bestIdx, bestDist := 0, -1.0
	for i, point := range data {
		if d := squaredDistance(point, centroids[labels[i]]); d > bestDist {
			bestIdx, bestDist = i, d
		}
	}
	return data[bestIdx]
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return sum
}

func euclidean(a, b []float64) float64 {
	return math.Sqrt(squaredDistance(a, b))
}
