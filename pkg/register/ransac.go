package register

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

// FitAffine finds the least squares affine that maps each Ref point
// onto its Moving point. At least three non-collinear matches are needed.
func FitAffine(matches []Match) (emath.Aff3, error) {
	n := len(matches)
	if n < 3 {
		return emath.Aff3{}, fmt.Errorf("need 3 matches to fit an affine, have %d", n)
	}

	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for i, m := range matches {
		a.SetRow(i, []float64{float64(m.Ref.X), float64(m.Ref.Y), 1})
		b.SetRow(i, []float64{float64(m.Moving.X), float64(m.Moving.Y)})
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return emath.Aff3{}, fmt.Errorf("affine fit: %w", err)
	}

	m := emath.Aff3{x.At(0, 0), x.At(1, 0), x.At(2, 0), x.At(0, 1), x.At(1, 1), x.At(2, 1)}
	if math.Abs(m.Det()) < 1e-6 {
		return emath.Aff3{}, fmt.Errorf("affine fit is degenerate: %s", m)
	}
	return m, nil
}

func residual(m emath.Aff3, match Match) float64 {
	x, y := m.Apply(float64(match.Ref.X), float64(match.Ref.Y))
	return math.Hypot(x-float64(match.Moving.X), y-float64(match.Moving.Y))
}

// RansacAffine fits an affine to the matches while ignoring outliers:
// it repeatedly fits three random matches, keeps the fit that most
// matches agree with (to within `tolerance` pixels), and refits that
// consensus set with least squares. The random source is seeded, so
// runs are repeatable.
func RansacAffine(matches []Match, iters int, tolerance float64) (emath.Aff3, []Match, error) {
	if len(matches) < 3 {
		return emath.Aff3{}, nil, fmt.Errorf("need 3 matches for RANSAC, have %d", len(matches))
	}

	rng := rand.New(rand.NewSource(1))
	bestCount := 0
	var best emath.Aff3

	sample := make([]Match, 3)
	for it := 0; it < iters; it++ {
		perm := rng.Perm(len(matches))
		for i := range sample {
			sample[i] = matches[perm[i]]
		}
		m, err := FitAffine(sample)
		if err != nil {
			continue // collinear or repeated points
		}

		count := 0
		for _, match := range matches {
			if residual(m, match) <= tolerance {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = m, count
			if count == len(matches) {
				break
			}
		}
	}

	if bestCount < 3 {
		return emath.Aff3{}, nil, fmt.Errorf("RANSAC found no consensus among %d matches", len(matches))
	}

	inliers := []Match{}
	for _, match := range matches {
		if residual(best, match) <= tolerance {
			inliers = append(inliers, match)
		}
	}

	refined, err := FitAffine(inliers)
	if err != nil {
		return best, inliers, nil
	}
	return refined, inliers, nil
}
