package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segensemble/internal/models"
)

// countingStager stages prepared inputs and counts live stagings
type countingStager struct {
	inputs  map[models.Normalization]models.Prepared
	staged  []models.Normalization
	live    int
	failFor models.Normalization
}

func (c *countingStager) Stage(v models.Normalization) (*Staged, error) {
	if v == c.failFor {
		return nil, errors.New("transfer failed")
	}
	c.staged = append(c.staged, v)
	c.live++
	return &Staged{Input: c.inputs[v]}, nil
}

func (c *countingStager) Unstage(s *Staged) error {
	c.live--
	return nil
}

func newStager() *countingStager {
	return &countingStager{inputs: map[models.Normalization]models.Prepared{
		models.MinMax: {Variant: models.MinMax, Pad: models.PadSpec{1, 2, 3}, Crop: models.CropWindow{{Start: 0, End: 1}, {Start: 0, End: 1}, {Start: 0, End: 1}}},
		models.ZScore: {Variant: models.ZScore, Pad: models.PadSpec{3, 2, 1}, Crop: models.CropWindow{{Start: 1, End: 2}, {Start: 1, End: 2}, {Start: 1, End: 2}}},
	}}
}

func TestRouteReusesSameVariant(t *testing.T) {
	stager := newStager()
	r := NewRouter(stager)

	order := []models.Normalization{models.MinMax, models.MinMax, models.ZScore, models.ZScore, models.MinMax}
	wantReused := []bool{false, true, false, true, false}
	for i, v := range order {
		staged, reused, err := r.Route(v)
		require.NoError(t, err)
		assert.Equal(t, wantReused[i], reused, "route %d", i)
		assert.Equal(t, v, staged.Input.Variant)
		assert.Equal(t, stager.inputs[v].Pad, staged.Input.Pad, "pad metadata follows the variant")
		assert.Equal(t, stager.inputs[v].Crop, staged.Input.Crop, "crop metadata follows the variant")
		assert.Equal(t, 1, stager.live, "only one variant staged at a time")
	}

	assert.Equal(t, []models.Normalization{models.MinMax, models.ZScore, models.MinMax}, stager.staged)
	assert.Equal(t, 3, r.Transfers())
	assert.Equal(t, 2, r.Reuses())

	require.NoError(t, r.Release())
	assert.Zero(t, stager.live)
	require.NoError(t, r.Release())
}

func TestRouteRejectsUnknownVariant(t *testing.T) {
	_, _, err := NewRouter(newStager()).Route("histogram")
	assert.Error(t, err)
}

func TestRouteStagingFailure(t *testing.T) {
	stager := newStager()
	stager.failFor = models.ZScore
	r := NewRouter(stager)

	_, _, err := r.Route(models.MinMax)
	require.NoError(t, err)

	_, _, err = r.Route(models.ZScore)
	assert.Error(t, err)
	assert.Zero(t, stager.live, "previous variant released before the failed transfer")

	// the cache is empty, so the next route transfers again
	_, reused, err := r.Route(models.MinMax)
	require.NoError(t, err)
	assert.False(t, reused)
}
