package pattern

import (
	"testing"
	"time"
)

func TestHasUpperRune(t *testing.T) {
	cases := map[string]bool{
		"lowercase":  false,
		"Mixed":      true,
		"ALLCAPS":    true,
		"数字":         false,
		"café Á":     true,
	}
	for s, want := range cases {
		if got := hasUpperRune(s); got != want {
			t.Errorf("hasUpperRune(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestEatRegexpLiteralVsRegex(t *testing.T) {
	n := &Node{}
	c := newCursor(`hello`)
	if err := n.eatRegexp(c, introTilde); err != nil {
		t.Fatal(err)
	}
	if n.Regex == nil || !n.IgnoreCase {
		t.Errorf("bare lowercase token should compile a case-insensitive regex")
	}

	n = &Node{}
	c = newCursor(`Hello`)
	if err := n.eatRegexp(c, introTilde); err != nil {
		t.Fatal(err)
	}
	if n.IgnoreCase {
		t.Errorf("token with an uppercase rune should be case-sensitive")
	}

	n = &Node{}
	c = newCursor(`literal text`)
	if err := n.eatRegexp(c, introEquals); err != nil {
		t.Fatal(err)
	}
	if n.Literal != "literal" {
		t.Errorf("Literal = %q, want %q (only first token consumed)", n.Literal, "literal")
	}

	n = &Node{}
	c = newCursor(`mygroup`)
	if err := n.eatRegexp(c, introPercent); err != nil {
		t.Fatal(err)
	}
	if n.Group != "mygroup" {
		t.Errorf("Group = %q, want %q", n.Group, "mygroup")
	}
}

func TestEatRegexpEmptyIsError(t *testing.T) {
	n := &Node{}
	c := newCursor(``)
	if err := n.eatRegexp(c, introTilde); err == nil {
		t.Error("empty expression should be a compile error")
	}
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		tok      string
		min, max int64
		wantErr  bool
	}{
		{tok: "5", min: 5, max: 5},
		{tok: "5-10", min: 5, max: 10},
		{tok: "10-5", min: 5, max: 10}, // swapped
		{tok: "<10", min: 0, max: 9},
		{tok: ">10", min: 11, max: Sentinel},
		{tok: "-10", min: 0, max: 10},
		{tok: "10-", min: 10, max: Sentinel},
		{tok: "2K", min: 2048, max: 2048},
		{tok: "1M", min: 1048576, max: 1048576},
		{tok: "abc", wantErr: true},
		{tok: "5-x", wantErr: true},
		{tok: "", wantErr: true},
	}
	for _, c := range cases {
		min, max, err := parseRange(c.tok)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseRange(%q) = (%d,%d), want error", c.tok, min, max)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRange(%q): unexpected error %v", c.tok, err)
			continue
		}
		if min != c.min || max != c.max {
			t.Errorf("parseRange(%q) = (%d,%d), want (%d,%d)", c.tok, min, max, c.min, c.max)
		}
	}
}

func TestEatDateLessThan3Days(t *testing.T) {
	// "<3d": messages from 3 days ago (start of day) through now.
	now := fixedNow()
	n := &Node{}
	c := newCursor(`<3d`)
	if err := n.eatDate(c, func() time.Time { return now }); err != nil {
		t.Fatal(err)
	}
	wantMin := time.Date(2020, 6, 12, 0, 0, 0, 0, time.UTC)
	wantMax := time.Date(2020, 6, 15, 23, 59, 59, 0, time.UTC)
	if !n.DateMin.Equal(wantMin) || !n.DateMax.Equal(wantMax) {
		t.Errorf("<3d: got [%v, %v], want [%v, %v]", n.DateMin, n.DateMax, wantMin, wantMax)
	}
	if !n.Dynamic {
		t.Error("<3d should be Dynamic (relative to now)")
	}
}

func TestEatDateEquals3Days(t *testing.T) {
	// "=3d": exactly the day that was 3 days ago.
	now := fixedNow()
	n := &Node{}
	c := newCursor(`=3d`)
	if err := n.eatDate(c, func() time.Time { return now }); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2020, 6, 12, 0, 0, 0, 0, time.UTC)
	wantMax := time.Date(2020, 6, 12, 23, 59, 59, 0, time.UTC)
	if !n.DateMin.Equal(want) || !n.DateMax.Equal(wantMax) {
		t.Errorf("=3d: got [%v, %v], want [%v, %v]", n.DateMin, n.DateMax, want, wantMax)
	}
}

func TestEatDateAbsoluteRange(t *testing.T) {
	// "20200101-20200131": the whole of January 2020.
	now := fixedNow()
	n := &Node{}
	c := newCursor(`20200101-20200131`)
	if err := n.eatDate(c, func() time.Time { return now }); err != nil {
		t.Fatal(err)
	}
	wantMin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	wantMax := time.Date(2020, 1, 31, 23, 59, 59, 0, time.UTC)
	if !n.DateMin.Equal(wantMin) || !n.DateMax.Equal(wantMax) {
		t.Errorf("range: got [%v, %v], want [%v, %v]", n.DateMin, n.DateMax, wantMin, wantMax)
	}
	if n.Dynamic {
		t.Error("two absolute dates should not be Dynamic")
	}
}

func TestEatDateOpenEndedSinceDate(t *testing.T) {
	// "20200201-": from Feb 1 2020 through now.
	now := fixedNow()
	n := &Node{}
	c := newCursor(`20200201-`)
	if err := n.eatDate(c, func() time.Time { return now }); err != nil {
		t.Fatal(err)
	}
	wantMin := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	if !n.DateMin.Equal(wantMin) || !n.DateMax.Equal(now) {
		t.Errorf("open-ended: got [%v, %v], want [%v, %v]", n.DateMin, n.DateMax, wantMin, now)
	}
	if !n.Dynamic {
		t.Error("trailing '-' with no end date should be Dynamic (tracks now)")
	}
}

func TestEatDateWindowAroundDate(t *testing.T) {
	// "20200201*1w": one week either side of Feb 1 2020.
	now := fixedNow()
	n := &Node{}
	c := newCursor(`20200201*1w`)
	if err := n.eatDate(c, func() time.Time { return now }); err != nil {
		t.Fatal(err)
	}
	wantMin := time.Date(2020, 1, 25, 0, 0, 0, 0, time.UTC)
	wantMax := time.Date(2020, 2, 8, 23, 59, 59, 0, time.UTC)
	if !n.DateMin.Equal(wantMin) || !n.DateMax.Equal(wantMax) {
		t.Errorf("window: got [%v, %v], want [%v, %v]", n.DateMin, n.DateMax, wantMin, wantMax)
	}
	if n.Dynamic {
		t.Error("a window around an absolute date should not be Dynamic")
	}
}

func TestParseAbsoluteDateDayMonthYearForm(t *testing.T) {
	now := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	got, rest, err := parseAbsoluteDate("15/6/20", now)
	if err != nil {
		t.Fatal(err)
	}
	if rest != "" {
		t.Errorf("rest = %q, want empty", rest)
	}
	want := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseAbsoluteDateDefaultsMonthYear(t *testing.T) {
	now := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	got, rest, err := parseAbsoluteDate("15", now)
	if err != nil {
		t.Fatal(err)
	}
	if rest != "" {
		t.Errorf("rest = %q, want empty", rest)
	}
	want := time.Date(2020, 3, 15, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEatDateInvalidUnit(t *testing.T) {
	n := &Node{}
	c := newCursor(`<3q`)
	if err := n.eatDate(c, func() time.Time { return fixedNow() }); err == nil {
		t.Error("unit 'q' should be a compile error")
	}
}

func TestEatDateEmptyIsError(t *testing.T) {
	n := &Node{}
	c := newCursor(``)
	if err := n.eatDate(c, func() time.Time { return fixedNow() }); err == nil {
		t.Error("empty date range should be a compile error")
	}
}
