package scale_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/hftlab/backtestsim/internal/scale"
)

func TestToInt(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100.2", 100_200_00000},
		{"0", 0},
		{"-52.5", -52_500_00000},
		{"0.000000005", 1}, // rounds half away from zero at the scaler boundary
	}
	for _, c := range cases {
		got := scale.ToInt(decimal.RequireFromString(c.in))
		assert.Equal(t, c.want, got, "ToInt(%s)", c.in)
	}
}

func TestFromInt(t *testing.T) {
	got := scale.FromInt(100_200_00000)
	want := decimal.RequireFromString("100.2")
	assert.True(t, want.Equal(got), "got %s want %s", got, want)
}

func TestRoundTrip(t *testing.T) {
	v := decimal.RequireFromString("12345.6789")
	got := scale.FromInt(scale.ToInt(v))
	assert.True(t, v.Equal(got))
}
