package tariff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testSettings() Settings {
	return Settings{
		Salary: map[string]TierAmounts{
			"1": {Tier0: 600, Tier1: 1000, Tier2: 1400, Tier3: 1800},
			"2": {Tier0: 700, Tier1: 1100, Tier2: 1500, Tier3: 1900},
			"3": {Tier0: 800, Tier1: 1200, Tier2: 1600, Tier3: 2000},
			"4": {Tier0: 900, Tier1: 1300, Tier2: 1700, Tier3: 2100},
		},
		Deduction:    TierAmounts{Tier0: 1500, Tier1: 2200, Tier2: 3000, Tier3: 3800},
		SpecialBonus: TierAmounts{Tier0: 40, Tier1: 60, Tier2: 80, Tier3: 100},
		Distribution: map[string]TierAmounts{
			"Plan_A": {Tier0: 100, Tier1: 150, Tier2: 200, Tier3: 250},
		},
		SpecialUser: 777,
	}
}

func TestTablesLookups(t *testing.T) {
	tables, err := New(testSettings())
	require.NoError(t, err)

	salary, err := tables.Salary(1, Tier2)
	require.NoError(t, err)
	assert.Equal(t, int64(1400), salary)

	ded, err := tables.Deduction(Tier2)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), ded)

	bonus, err := tables.Bonus(Tier2)
	require.NoError(t, err)
	assert.Equal(t, int64(80), bonus)

	dist, err := tables.Distribution("plan_a", Tier3)
	require.NoError(t, err)
	assert.Equal(t, int64(250), dist)
	assert.True(t, tables.HasDistribution("PLAN_A"))
	assert.Equal(t, []string{"plan_a"}, tables.Distributions())

	_, err = tables.Distribution("missing", Tier1)
	assert.ErrorIs(t, err, ErrUnknownDistribution)

	_, err = tables.Salary(5, Tier1)
	assert.ErrorIs(t, err, ErrUnknownSalaryOption)

	_, err = tables.Salary(1, StatusCode(7))
	assert.ErrorIs(t, err, ErrUnknownStatusCode)

	assert.Equal(t, int64(777), tables.SpecialUser())
}

func TestVoidHasNoMonetaryEffect(t *testing.T) {
	tables, err := New(testSettings())
	require.NoError(t, err)

	for opt := 1; opt <= SalaryOptions; opt++ {
		v, err := tables.Salary(opt, Void)
		require.NoError(t, err)
		assert.Zero(t, v)
	}
	v, _ := tables.Deduction(Void)
	assert.Zero(t, v)
	v, _ = tables.Bonus(Void)
	assert.Zero(t, v)
}

func TestNewRejectsIncompleteSettings(t *testing.T) {
	s := testSettings()
	delete(s.Salary, "3")
	_, err := New(s)
	assert.Error(t, err)

	s = testSettings()
	s.Salary["5"] = TierAmounts{}
	_, err = New(s)
	assert.Error(t, err)

	s = testSettings()
	s.Salary["1"] = TierAmounts{Tier0: -1}
	_, err = New(s)
	assert.Error(t, err)
}

func TestParseStatusCode(t *testing.T) {
	inputs := map[string]StatusCode{"-1": Void, "0": Tier0, "1": Tier1, " 2 ": Tier2, "3": Tier3}
	for in, want := range inputs {
		got, err := ParseStatusCode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseStatusCode("4")
	assert.ErrorIs(t, err, ErrUnknownStatusCode)
	_, err = ParseStatusCode("x")
	assert.ErrorIs(t, err, ErrUnknownStatusCode)
	assert.Equal(t, "void", Void.String())
	assert.Equal(t, "tier2", Tier2.String())
}

// TestSalaryNeverNegativeProperty checks that any valid lookup on validated
// tables yields a non-negative salary.
func TestSalaryNeverNegativeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gen := rapid.Int64Range(0, 100000)
		s := Settings{Salary: map[string]TierAmounts{}}
		for _, key := range []string{"1", "2", "3", "4"} {
			s.Salary[key] = TierAmounts{
				Tier0: gen.Draw(t, "t0"),
				Tier1: gen.Draw(t, "t1"),
				Tier2: gen.Draw(t, "t2"),
				Tier3: gen.Draw(t, "t3"),
			}
		}
		tables, err := New(s)
		if err != nil {
			t.Fatalf("valid settings rejected: %v", err)
		}

		opt := rapid.IntRange(1, SalaryOptions).Draw(t, "option")
		code := rapid.SampledFrom(StatusCodes()).Draw(t, "code")
		v, err := tables.Salary(opt, code)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if v < 0 {
			t.Fatalf("negative salary %d", v)
		}
	})
}
