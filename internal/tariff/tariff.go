// Package tariff holds the closed set of finalization status codes and the
// monetary tables keyed by them: venue salary tiers, user deductions,
// distribution plans and the special-account bonus.
package tariff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"venue-booking-bot/internal/pkg/apperr"
)

// Errors for tariff lookups.
var (
	ErrUnknownStatusCode   = apperr.New(apperr.ErrValidation, "unknown status code")
	ErrUnknownSalaryOption = apperr.New(apperr.ErrValidation, "unknown salary option")
	ErrUnknownDistribution = apperr.New(apperr.ErrNotFound, "unknown distribution variant")
)

// StatusCode is the outcome tier an admin assigns to a finished booking.
type StatusCode int

// Status codes. Void is a terminal marker without monetary effect.
const (
	Void  StatusCode = -1
	Tier0 StatusCode = 0
	Tier1 StatusCode = 1
	Tier2 StatusCode = 2
	Tier3 StatusCode = 3
)

// StatusCodes returns every valid code in display order.
func StatusCodes() []StatusCode {
	return []StatusCode{Void, Tier0, Tier1, Tier2, Tier3}
}

// ParseStatusCode parses "-1".."3".
func ParseStatusCode(s string) (StatusCode, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrUnknownStatusCode
	}
	c := StatusCode(n)
	if !c.Valid() {
		return 0, ErrUnknownStatusCode
	}
	return c, nil
}

// Valid reports whether c is in the closed set.
func (c StatusCode) Valid() bool {
	return c >= Void && c <= Tier3
}

func (c StatusCode) String() string {
	if c == Void {
		return "void"
	}
	return fmt.Sprintf("tier%d", int(c))
}

// TierAmounts maps every non-void status code to an amount.
type TierAmounts struct {
	Tier0 int64 `mapstructure:"tier0"`
	Tier1 int64 `mapstructure:"tier1"`
	Tier2 int64 `mapstructure:"tier2"`
	Tier3 int64 `mapstructure:"tier3"`
}

// For returns the amount for c. Void always yields zero.
func (a TierAmounts) For(c StatusCode) (int64, error) {
	switch c {
	case Void:
		return 0, nil
	case Tier0:
		return a.Tier0, nil
	case Tier1:
		return a.Tier1, nil
	case Tier2:
		return a.Tier2, nil
	case Tier3:
		return a.Tier3, nil
	}
	return 0, ErrUnknownStatusCode
}

func (a TierAmounts) anyNegative() bool {
	return a.Tier0 < 0 || a.Tier1 < 0 || a.Tier2 < 0 || a.Tier3 < 0
}

// Settings is the configuration form of the tables.
type Settings struct {
	// Salary is keyed by salary option "1".."4".
	Salary       map[string]TierAmounts `mapstructure:"salary"`
	Deduction    TierAmounts            `mapstructure:"deduction"`
	Distribution map[string]TierAmounts `mapstructure:"distribution"`
	SpecialBonus TierAmounts            `mapstructure:"special_bonus"`
	SpecialUser  int64                  `mapstructure:"special_user"`
}

// SalaryOptions is the number of preset salary tier tables.
const SalaryOptions = 4

// Tables answers every monetary lookup of the settlement workflow.
type Tables struct {
	salary       map[int]TierAmounts
	deduction    TierAmounts
	distribution map[string]TierAmounts
	bonus        TierAmounts
	specialUser  int64
}

// New validates s and builds the lookup tables.
// All four salary options must be present and salary amounts non-negative.
func New(s Settings) (*Tables, error) {
	t := &Tables{
		salary:       make(map[int]TierAmounts, SalaryOptions),
		deduction:    s.Deduction,
		distribution: make(map[string]TierAmounts, len(s.Distribution)),
		bonus:        s.SpecialBonus,
		specialUser:  s.SpecialUser,
	}

	for key, amounts := range s.Salary {
		opt, err := strconv.Atoi(key)
		if err != nil || opt < 1 || opt > SalaryOptions {
			return nil, fmt.Errorf("invalid salary option %q", key)
		}
		if amounts.anyNegative() {
			return nil, fmt.Errorf("salary option %d has a negative amount", opt)
		}
		t.salary[opt] = amounts
	}
	for opt := 1; opt <= SalaryOptions; opt++ {
		if _, ok := t.salary[opt]; !ok {
			return nil, fmt.Errorf("salary option %d is not configured", opt)
		}
	}

	for name, amounts := range s.Distribution {
		if amounts.anyNegative() {
			return nil, fmt.Errorf("distribution %q has a negative amount", name)
		}
		t.distribution[strings.ToLower(name)] = amounts
	}
	if s.SpecialBonus.anyNegative() {
		return nil, fmt.Errorf("special bonus has a negative amount")
	}

	return t, nil
}

// Salary returns the venue salary accrued for c under the given option.
func (t *Tables) Salary(option int, c StatusCode) (int64, error) {
	amounts, ok := t.salary[option]
	if !ok {
		return 0, ErrUnknownSalaryOption
	}
	return amounts.For(c)
}

// Deduction returns the amount withheld from the booked user for c.
func (t *Tables) Deduction(c StatusCode) (int64, error) {
	return t.deduction.For(c)
}

// Bonus returns the special-account bonus for c.
func (t *Tables) Bonus(c StatusCode) (int64, error) {
	return t.bonus.For(c)
}

// Distribution returns the payout of the named plan for c.
func (t *Tables) Distribution(variant string, c StatusCode) (int64, error) {
	amounts, ok := t.distribution[strings.ToLower(variant)]
	if !ok {
		return 0, ErrUnknownDistribution
	}
	return amounts.For(c)
}

// HasDistribution reports whether a plan with that name is configured.
func (t *Tables) HasDistribution(variant string) bool {
	_, ok := t.distribution[strings.ToLower(variant)]
	return ok
}

// Distributions returns the configured plan names, sorted.
func (t *Tables) Distributions() []string {
	names := make([]string, 0, len(t.distribution))
	for name := range t.distribution {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SpecialUser returns the account receiving the special bonus.
func (t *Tables) SpecialUser() int64 {
	return t.specialUser
}
