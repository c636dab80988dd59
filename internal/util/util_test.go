package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(s string) time.Time {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	attempts := 0

	err := RetryIf(context.Background(), 5, 0,
		func(err error) bool { return !errors.Is(err, permanent) },
		func() error {
			attempts++
			return permanent
		})

	if !errors.Is(err, permanent) {
		t.Fatalf("RetryIf error = %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatalf("unlimited RateLimiter refused call %d", i)
		}
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

func TestRateLimiterBurstOfOne(t *testing.T) {
	rl := NewRateLimiter(1)
	if !rl.Allow() {
		t.Fatal("first call should be allowed")
	}
	if rl.Allow() {
		t.Error("second immediate call should be throttled at 1/min")
	}
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"2024-03-31", -1, "2024-02-29"},
		{"2023-03-31", -1, "2023-02-28"},
		{"2024-05-31", -3, "2024-02-29"},
		{"2024-01-15", -12, "2023-01-15"},
		{"2024-08-31", -6, "2024-02-29"},
		{"2023-11-30", 3, "2024-02-29"},
		{"2024-01-31", 1, "2024-02-29"},
	}
	for _, c := range cases {
		got := AddMonthsClamped(day(c.in), c.n)
		if got.Format(DateLayout) != c.want {
			t.Errorf("AddMonthsClamped(%s, %d) = %s, want %s", c.in, c.n, got.Format(DateLayout), c.want)
		}
	}
}

func TestWholeMonthsBetween(t *testing.T) {
	cases := []struct {
		from, to string
		want     int
	}{
		{"2024-01-03", "2024-02-01", 0},
		{"2024-01-03", "2024-02-05", 1},
		{"2024-01-31", "2024-02-29", 1},
		{"2024-01-31", "2024-02-28", 0},
		{"2024-01-02", "2024-04-01", 2},
		{"2024-01-02", "2024-04-02", 3},
		{"2023-06-15", "2024-06-15", 12},
	}
	for _, c := range cases {
		if got := WholeMonthsBetween(day(c.from), day(c.to)); got != c.want {
			t.Errorf("WholeMonthsBetween(%s, %s) = %d, want %d", c.from, c.to, got, c.want)
		}
	}
}

func TestTradingCalendarBetween(t *testing.T) {
	cal := NewTradingCalendar([]time.Time{
		day("2024-01-04"), day("2024-01-02"), day("2024-01-03"), day("2024-01-03"), day("2024-01-08"),
	})
	if cal.Len() != 4 {
		t.Fatalf("Len = %d, want 4 (duplicates dropped)", cal.Len())
	}

	got := cal.Between(day("2024-01-03"), day("2024-01-07"))
	if len(got) != 2 || !got[0].Equal(day("2024-01-03")) || !got[1].Equal(day("2024-01-04")) {
		t.Errorf("Between = %v, want [2024-01-03 2024-01-04]", got)
	}
	if !cal.IsTradingDay(day("2024-01-08")) {
		t.Error("2024-01-08 should be a trading day")
	}
	if cal.IsTradingDay(day("2024-01-05")) {
		t.Error("2024-01-05 should not be a trading day")
	}
}

func TestDateIndexFloor(t *testing.T) {
	idx, err := NewDateIndex(
		[]time.Time{day("2024-01-02"), day("2024-01-05"), day("2024-01-09")},
		[]string{"a", "b", "c"},
	)
	if err != nil {
		t.Fatalf("NewDateIndex: %v", err)
	}

	if _, _, ok := idx.Floor(day("2024-01-01")); ok {
		t.Error("Floor before first entry should miss")
	}
	v, d, ok := idx.Floor(day("2024-01-07"))
	if !ok || v != "b" || !d.Equal(day("2024-01-05")) {
		t.Errorf("Floor(2024-01-07) = %q %v %v, want b 2024-01-05 true", v, d, ok)
	}
	v, _, _ = idx.Floor(day("2024-01-09"))
	if v != "c" {
		t.Errorf("Floor on exact date = %q, want c", v)
	}
	v, _, _ = idx.Floor(day("2030-01-01"))
	if v != "c" {
		t.Errorf("Floor after last = %q, want c", v)
	}
}

func TestDateIndexRejectsUnsorted(t *testing.T) {
	_, err := NewDateIndex([]time.Time{day("2024-01-05"), day("2024-01-05")}, []int{1, 2})
	if err == nil {
		t.Fatal("expected error for duplicate dates")
	}
	_, err = NewDateIndex([]time.Time{day("2024-01-05")}, []int{1, 2})
	if err == nil {
		t.Fatal("expected error for length mismatch")
	}
}
