package fare

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/transit"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(transit.DefaultCatalog())
}

func TestFare_Linear(t *testing.T) {
	r := newTestRegistry(t)

	q := r.Fare(transit.BusOrdinary, 7.777, 25)
	assert.Equal(t, 12.78, q.Amount)
	assert.Equal(t, Currency, q.Currency)
	assert.Equal(t, ModelLinear, q.Model)
	assert.False(t, q.Degraded)

	// Zero distance is floored at the base fare.
	assert.Equal(t, 5.0, r.Fare(transit.BusOrdinary, 0, 0).Amount)
	assert.Equal(t, 25.0, r.Fare(transit.Taxi, 0, 0).Amount)
}

func TestFare_Slab(t *testing.T) {
	profiles := make([]transit.Profile, 0)
	for _, m := range transit.AllModes() {
		p := transit.DefaultCatalog().Profile(m)
		if m == transit.MetroToken {
			p.Slabs = []transit.Slab{{MaxKm: 2, Fare: 10}, {MaxKm: 5, Fare: 15}, {MaxKm: 8, Fare: 20}}
		}
		profiles = append(profiles, p)
	}
	catalog, err := transit.NewCatalog(profiles, transit.BoundingBox{})
	require.NoError(t, err)
	r := NewRegistry(catalog)

	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 10},
		{2, 10},
		{2.01, 15},
		{6.0, 20},
		{8, 20},
		{50, 20},
	}
	for _, tt := range tests {
		q := r.Fare(transit.MetroToken, tt.distance, 0)
		assert.Equal(t, tt.want, q.Amount, "distance %.2f", tt.distance)
		assert.Equal(t, ModelSlab, q.Model)
	}
}

func TestFare_SmartCardDiscount(t *testing.T) {
	r := newTestRegistry(t)

	token := r.Fare(transit.MetroToken, 6, 0)
	card := r.Fare(transit.MetroSmartCard, 6, 0)
	assert.Equal(t, 20.0, token.Amount)
	assert.Equal(t, 19.0, card.Amount)

	// Beyond the last slab the top slab applies.
	assert.Equal(t, 60.0, r.Fare(transit.MetroToken, 80, 0).Amount)
}

func TestFare_LinearDiscountNeverUndercutsMinimum(t *testing.T) {
	profiles := make([]transit.Profile, 0)
	for _, m := range transit.AllModes() {
		p := transit.DefaultCatalog().Profile(m)
		if m == transit.Auto {
			p.Discount = 0.1
		}
		profiles = append(profiles, p)
	}
	catalog, err := transit.NewCatalog(profiles, transit.BoundingBox{})
	require.NoError(t, err)
	r := NewRegistry(catalog)

	base := transit.DefaultCatalog().Profile(transit.Auto).BaseFare
	minimum := r.MinimumFare(transit.Auto)
	assert.InDelta(t, base*0.9, minimum, 0.01)

	for _, d := range []float64{0, 0.5, 2, 10} {
		assert.GreaterOrEqual(t, r.Fare(transit.Auto, d, 0).Amount, minimum, "distance %.1f", d)
	}
	q := r.Fare(transit.Auto, math.NaN(), 0)
	assert.True(t, q.Degraded)
	assert.Equal(t, minimum, q.Amount)
}

func TestFare_Monotonic(t *testing.T) {
	r := newTestRegistry(t)

	for _, m := range transit.AllModes() {
		prev := -1.0
		for d := 0.0; d <= 60; d += 0.25 {
			q := r.Fare(m, d, d*3)
			if q.Amount < prev {
				t.Errorf("%s: fare decreased from %.2f to %.2f at %.2f km", m, prev, q.Amount, d)
			}
			prev = q.Amount
		}
	}
}

func TestFare_InvalidInputsDegradeToMinimum(t *testing.T) {
	r := newTestRegistry(t)

	for _, d := range []float64{math.NaN(), math.Inf(1), -3} {
		q := r.Fare(transit.MetroToken, d, 10)
		assert.True(t, q.Degraded)
		assert.Equal(t, 10.0, q.Amount)

		q = r.Fare(transit.BusAC, d, 10)
		assert.True(t, q.Degraded)
		assert.Equal(t, 15.0, q.Amount)
	}

	// A bad duration alone is ignored rather than degrading the quote.
	q := r.Fare(transit.BusOrdinary, 3, math.NaN())
	assert.False(t, q.Degraded)
	assert.Equal(t, 8.0, q.Amount)
}

func TestFare_Surge(t *testing.T) {
	r := newTestRegistry(t)

	base := r.Fare(transit.Taxi, 10, 20)
	surged := r.FareWithSurge(transit.Taxi, 10, 20, 1.5)
	assert.Equal(t, 175.0, base.Amount)
	assert.Equal(t, 262.5, surged.Amount)
	assert.Equal(t, 1.5, surged.Surge)

	// Multipliers below one never discount.
	assert.Equal(t, base.Amount, r.FareWithSurge(transit.Taxi, 10, 20, 0.5).Amount)
	assert.Equal(t, base.Amount, r.FareWithSurge(transit.Taxi, 10, 20, math.NaN()).Amount)

	// Buses ignore surge.
	bus := r.FareWithSurge(transit.BusOrdinary, 10, 20, 2)
	assert.Equal(t, 15.0, bus.Amount)
	assert.Equal(t, 1.0, bus.Surge)
}

func TestFare_ActiveModesAreFree(t *testing.T) {
	r := newTestRegistry(t)

	for _, m := range []transit.Mode{transit.Walking, transit.Cycling} {
		q := r.Fare(m, 4, 48)
		assert.Zero(t, q.Amount)
		assert.Equal(t, ModelFree, q.Model)
		assert.Zero(t, r.MinimumFare(m))
	}
}

func TestFare_NeverNegativeOrNaN(t *testing.T) {
	r := newTestRegistry(t)
	inputs := []float64{0, 0.5, 7.75, 1e6, math.MaxFloat64, -1, math.NaN(), math.Inf(-1)}

	for _, m := range transit.AllModes() {
		for _, d := range inputs {
			for _, s := range []float64{1, 3, math.Inf(1)} {
				q := r.FareWithSurge(m, d, d, s)
				if q.Amount < 0 || math.IsNaN(q.Amount) || math.IsInf(q.Amount, 0) {
					t.Errorf("%s d=%v surge=%v: invalid amount %v", m, d, s, q.Amount)
				}
			}
		}
	}
}
