package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"9:00 AM":  "09:00",
		"9:00am":   "09:00",
		"12:00 AM": "00:00",
		"12:00 PM": "12:00",
		"12:59 am": "00:59",
		"2:30 PM":  "14:30",
		"11:59 PM": "23:59",
		"14:30":    "14:30",
		"0:00":     "00:00",
		" 7:05 ":   "07:05",
		"23:59":    "23:59",
	}
	for in, want := range cases {
		got, err := ToCanonical(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseTimeRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"25:00", "24:00", "12:60", "9", "9:0", "noon", "13:00 PM", "0:30 AM", "9:00 XM", "", "9:00 AM later"} {
		_, err := ToCanonical(in)
		assert.ErrorIs(t, err, ErrInvalidTime, in)
	}
}

func TestDisplayBoundaries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12:00 AM", ToDisplay("00:00"))
	assert.Equal(t, "12:00 PM", ToDisplay("12:00"))
	assert.Equal(t, "9:05 AM", ToDisplay("09:05"))
	assert.Equal(t, "11:59 PM", ToDisplay("23:59"))
	assert.Equal(t, "garbage", ToDisplay("garbage"))
}

func TestDisplayRoundTripAllMinutes(t *testing.T) {
	t.Parallel()

	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			c := Clock{Hour: h, Minute: m}
			disp := ToDisplay(c.Canonical())
			canon, err := ToCanonical(disp)
			require.NoError(t, err, disp)
			require.Equal(t, c.Canonical(), canon)
			require.Equal(t, disp, ToDisplay(canon))
		}
	}
}
