package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSequence(t *testing.T) {
	slots := Slots()
	require.Len(t, slots, 29)
	assert.Equal(t, "12:00", slots[0])
	assert.Equal(t, "23:30", slots[23])
	assert.Equal(t, "00:00", slots[24])
	assert.Equal(t, "02:00", slots[28])
	assert.Equal(t, 29, Count())
}

func TestNeighbors(t *testing.T) {
	tests := []struct {
		name string
		slot string
		want []string
	}{
		{"first slot", "12:00", []string{"12:30"}},
		{"last slot", "02:00", []string{"01:30"}},
		{"middle", "14:00", []string{"13:30", "14:30"}},
		{"across midnight", "00:00", []string{"23:30", "00:30"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Neighbors(tt.slot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Neighbors("11:30")
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"14:00", "14:00", true},
		{"14.30", "14:30", true},
		{"1400", "14:00", true},
		{"14", "14:00", true},
		{"0:30", "00:30", true},
		{"9", "", false},
		{"14:15", "", false},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, ErrUnknownSlot, tt.in)
		}
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("Today")
	require.NoError(t, err)
	assert.Equal(t, Today, d)

	d, err = ParseDay("tomorrow")
	require.NoError(t, err)
	assert.Equal(t, Tomorrow, d)

	_, err = ParseDay("2024-01-01")
	assert.ErrorIs(t, err, ErrUnknownDay)
}

// TestNeighborsSymmetricProperty checks that adjacency is symmetric and
// that every slot has one or two neighbors.
func TestNeighborsSymmetricProperty(t *testing.T) {
	slots := Slots()
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.SampledFrom(slots).Draw(t, "slot")

		ns, err := Neighbors(s)
		if err != nil {
			t.Fatalf("Neighbors(%s) failed: %v", s, err)
		}
		if len(ns) < 1 || len(ns) > 2 {
			t.Fatalf("slot %s has %d neighbors", s, len(ns))
		}
		for _, n := range ns {
			if !Adjacent(s, n) || !Adjacent(n, s) {
				t.Fatalf("adjacency not symmetric for %s and %s", s, n)
			}
			back, _ := Neighbors(n)
			if !contains(back, s) {
				t.Fatalf("%s lists %s as neighbor but not vice versa", s, n)
			}
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
