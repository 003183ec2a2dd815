package cluster

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func blobs() [][]float64 {
	var pts [][]float64
	for i := 0; i < 20; i++ {
		d := float64(i%5) * 0.01
		pts = append(pts, []float64{0 + d, 0 - d}, []float64{10 + d, 10 - d})
	}
	return pts
}

func TestFit_SeparatesBlobs(t *testing.T) {
	km, err := Fit(blobs(), 2, 50, rand.NewSource(1))
	require.NoError(t, err)
	require.Len(t, km.Centroids, 2)

	a, err := km.Predict([]float64{0.1, 0})
	require.NoError(t, err)
	b, err := km.Predict([]float64{9.9, 10})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Less(t, km.Inertia, 1.0)
}

func TestFit_Errors(t *testing.T) {
	_, err := Fit(blobs(), 0, 10, rand.NewSource(1))
	assert.Error(t, err)
	_, err = Fit([][]float64{{1}}, 2, 10, rand.NewSource(1))
	assert.Error(t, err)
	_, err = Fit([][]float64{{1}, {1, 2}}, 1, 10, rand.NewSource(1))
	assert.Error(t, err)

	km := &KMeans{K: 1, Centroids: [][]float64{{0, 0}}}
	_, err = km.Predict([]float64{1})
	assert.Error(t, err)
	_, err = (&KMeans{}).Predict([]float64{1})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	km, err := Fit(blobs(), 2, 50, rand.NewSource(7))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "2_kmeans_model.json")
	require.NoError(t, km.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, km.Centroids, loaded.Centroids)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
