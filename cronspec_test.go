package cluster_cron

import (
	"errors"
	"testing"
	"time"
)

func TestCronSpec_WildcardAlwaysMatches(t *testing.T) {
	spec := MustParseCronSpec("* * * * * *")
	ts := time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)
	for i := 0; i < 2000; i++ {
		ts = ts.Add(7919 * time.Second)
		if !spec.Matches(ts) {
			t.Fatalf("wildcard spec did not match %s", ts)
		}
	}
}

func TestCronSpec_SecondStep(t *testing.T) {
	spec := MustParseCronSpec("*/5 * * * * *")
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	for s := 0; s < 60; s++ {
		ts := base.Add(time.Duration(s) * time.Second)
		want := s%5 == 0
		if got := spec.Matches(ts); got != want {
			t.Fatalf("second %d: Matches() = %v, want %v", s, got, want)
		}
	}
}

func TestCronSpec_MonthStepStartsAtOne(t *testing.T) {
	spec := MustParseCronSpec("0 0 0 * */3 *")
	want := map[time.Month]bool{time.January: true, time.April: true, time.July: true, time.October: true}
	for m := time.January; m <= time.December; m++ {
		ts := time.Date(2024, m, 1, 0, 0, 0, 0, time.UTC)
		if got := spec.Matches(ts); got != want[m] {
			t.Fatalf("month %s: Matches() = %v, want %v", m, got, want[m])
		}
	}
}

func TestCronSpec_Fields(t *testing.T) {
	testCases := []struct {
		name string
		expr string
		ts   time.Time
		want bool
	}{
		{
			name: "monday 9:30",
			expr: "0 30 9 1 * *",
			ts:   time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "tuesday is not monday",
			expr: "0 30 9 1 * *",
			ts:   time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "exact year",
			expr: "0 0 0 * * 2025",
			ts:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "other year",
			expr: "0 0 0 * * 2025",
			ts:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "year step counts from year one",
			expr: "0 0 0 * * */4",
			ts:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "year step off the stride",
			expr: "0 0 0 * * */4",
			ts:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "year step of one",
			expr: "0 0 0 * * */1",
			ts:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "year range with step",
			expr: "0 0 0 * * 2020-2030/5",
			ts:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "year list",
			expr: "0 0 0 * * 2024,2026",
			ts:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "minute list and hour range",
			expr: "0 0,30 8-10 * * *",
			ts:   time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "hour out of range",
			expr: "0 0,30 8-10 * * *",
			ts:   time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "sub-second part ignored",
			expr: "0 * * * * *",
			ts:   time.Date(2024, 6, 1, 10, 30, 0, 999_000_000, time.UTC),
			want: true,
		},
		{
			name: "evaluated in utc",
			expr: "0 0 0 * * *",
			ts:   time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("UTC+8", 8*3600)),
			want: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := ParseCronSpec(tc.expr)
			if err != nil {
				t.Fatalf("ParseCronSpec(%q) error = %v", tc.expr, err)
			}
			if got := spec.Matches(tc.ts); got != tc.want {
				t.Fatalf("Matches(%s) = %v, want %v", tc.ts, got, tc.want)
			}
		})
	}
}

func TestCronSpec_ParseErrors(t *testing.T) {
	exprs := []string{
		"",
		"* * * * *",
		"* * * * * * *",
		"*/0 * * * * *",
		"*/-1 * * * * *",
		"0 0 25 * * *",
		"60 * * * * *",
		"abc * * * * *",
		"* * * 7 * *",
		"* * * * 0 *",
		"* * * * 13 *",
		"* * * * * 0",
		"* * * * * */0",
		"* * * * * 2030-2020",
		"* * * * * 20x5",
		"* * * * * 1/2/3",
	}

	for _, expr := range exprs {
		spec, err := ParseCronSpec(expr)
		if err == nil {
			t.Fatalf("ParseCronSpec(%q) = %v, want error", expr, spec)
		}
		if !errors.Is(err, ErrInvalidCronSpec) {
			t.Fatalf("ParseCronSpec(%q) error = %v, want ErrInvalidCronSpec", expr, err)
		}
	}
}

func TestCronSpec_ReparseIsEquivalent(t *testing.T) {
	exprs := []string{
		"*/5 * * * * *",
		"0  30   9 1 * *",
		"15,45 */10 0-12 1-5 1/2 *",
		"0 0 0 * * 2024-2030/2",
	}

	for _, expr := range exprs {
		first := MustParseCronSpec(expr)
		second, err := ParseCronSpec(first.String())
		if err != nil {
			t.Fatalf("re-parse of %q error = %v", first.String(), err)
		}
		if first.String() != second.String() {
			t.Fatalf("String() not stable: %q vs %q", first.String(), second.String())
		}

		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5000; i++ {
			ts = ts.Add(3607 * time.Second)
			if first.Matches(ts) != second.Matches(ts) {
				t.Fatalf("%q: matchers disagree at %s", expr, ts)
			}
		}
	}

	if got := MustParseCronSpec("  */5   * * * * *  ").String(); got != "*/5 * * * * *" {
		t.Fatalf("String() = %q, want normalized expression", got)
	}
}

func TestCronSpec_NextFireTimes(t *testing.T) {
	spec := MustParseCronSpec("0 30 9 * * *")
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := spec.NextFireTimes(from, 3)
	if len(got) != 3 {
		t.Fatalf("NextFireTimes() returned %d times, want 3", len(got))
	}
	for i, ts := range got {
		want := time.Date(2024, 1, 1+i, 9, 30, 0, 0, time.UTC)
		if !ts.Equal(want) {
			t.Fatalf("NextFireTimes()[%d] = %s, want %s", i, ts, want)
		}
	}

	past := MustParseCronSpec("0 0 0 * * 2020")
	if got := past.NextFireTimes(from, 3); len(got) != 0 {
		t.Fatalf("NextFireTimes() for past year = %v, want none", got)
	}

	for _, n := range []int{0, -1} {
		if got := spec.NextFireTimes(from, n); got != nil {
			t.Fatalf("NextFireTimes(%d) = %v, want nil", n, got)
		}
	}

	future := MustParseCronSpec("0 0 0 * 1 2031")
	got = future.NextFireTimes(from, 1)
	if len(got) != 1 || !got[0].Equal(time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("NextFireTimes() for future year = %v", got)
	}
}
