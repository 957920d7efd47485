package llm

import (
	"math"
	"sync"
)

// Projector reduces dense embeddings to a fixed 3-dimensional coordinate for
// storage and lightweight visualization. It is lazily fitted on the first
// embedding it sees; every projection after that uses the same fitted model
// until an explicit Refit call replaces it (e.g. from a periodic offline
// batch job). There is no PCA library in the dependency set this module
// draws from, so the component extraction below is a small self-contained
// power-iteration implementation rather than a third-party solver.
type Projector struct {
	mu         sync.RWMutex
	fitted     bool
	dims       int
	mean       []float64
	components [3][]float64
}

// NewProjector creates a Projector for embeddings of the given dimensionality.
func NewProjector(dims int) *Projector {
	return &Projector{dims: dims}
}

// Project returns the 3D coordinate for vec. If no model has been fitted
// yet, it fits a trivial single-sample model from vec itself (mean = vec,
// components = the first three standard basis directions) so the very first WorkItem still gets a stable,
// reproducible projection; later calls to Refit replace this with a model
// fitted over a real batch.
func (p *Projector) Project(vec []float32) (x, y, z float64) {
	p.mu.RLock()
	fitted := p.fitted
	p.mu.RUnlock()

	if !fitted {
		p.fitSingleSample(vec)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	centered := make([]float64, len(vec))
	for i, v := range vec {
		centered[i] = float64(v) - p.mean[i]
	}
	return dot(centered, p.components[0]), dot(centered, p.components[1]), dot(centered, p.components[2])
}

func (p *Projector) fitSingleSample(vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fitted {
		return
	}
	n := len(vec)
	mean := make([]float64, n)
	for i, v := range vec {
		mean[i] = float64(v)
	}
	p.mean = mean
	p.components = [3][]float64{
		basisVector(n, 0),
		basisVector(n, 1),
		basisVector(n, 2),
	}
	p.fitted = true
}

func basisVector(n, idx int) []float64 {
	v := make([]float64, n)
	if idx < n {
		v[idx] = 1
	}
	return v
}

// Refit recomputes the mean and top-3 principal components from a batch of
// embeddings, replacing the current model atomically. Intended to be driven
// by a periodic offline job once enough WorkItems have accumulated to make
// the components meaningful.
func (p *Projector) Refit(batch [][]float32) {
	if len(batch) == 0 {
		return
	}
	n := len(batch[0])
	mean := make([]float64, n)
	for _, v := range batch {
		for i, x := range v {
			mean[i] += float64(x)
		}
	}
	for i := range mean {
		mean[i] /= float64(len(batch))
	}

	centered := make([][]float64, len(batch))
	for bi, v := range batch {
		row := make([]float64, n)
		for i, x := range v {
			row[i] = float64(x) - mean[i]
		}
		centered[bi] = row
	}

	var components [3][]float64
	deflated := centered
	for c := 0; c < 3; c++ {
		vec := powerIterationTopEigenvector(deflated, n)
		components[c] = vec
		deflated = deflate(deflated, vec)
	}

	p.mu.Lock()
	p.mean = mean
	p.components = components
	p.fitted = true
	p.mu.Unlock()
}

// powerIterationTopEigenvector estimates the dominant eigenvector of the
// covariance matrix of rows (mean-centered) without materializing the n×n
// covariance matrix, by repeatedly applying X^T X to a seed vector.
func powerIterationTopEigenvector(rows [][]float64, n int) []float64 {
	vec := make([]float64, n)
	vec[0] = 1
	for iter := 0; iter < 50; iter++ {
		next := make([]float64, n)
		for _, row := range rows {
			proj := dot(row, vec)
			for i, x := range row {
				next[i] += proj * x
			}
		}
		norm := math.Sqrt(dot(next, next))
		if norm < 1e-12 {
			break
		}
		for i := range next {
			next[i] /= norm
		}
		vec = next
	}
	return vec
}

// deflate removes the component of each row along vec, so the next call to
// powerIterationTopEigenvector finds the next-largest orthogonal component.
func deflate(rows [][]float64, vec []float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		proj := dot(row, vec)
		newRow := make([]float64, len(row))
		for j, x := range row {
			newRow[j] = x - proj*vec[j]
		}
		out[i] = newRow
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}
