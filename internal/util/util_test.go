package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"nsefeed/internal/domain"
)

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

func TestRetryStopsOnNonTransient(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return domain.Decode("0900.mkt.gz", errors.New("bad record"))
	})

	if err == nil {
		t.Fatal("Retry should surface the decode error")
	}
	if domain.KindOf(err) != domain.ErrDecode {
		t.Errorf("error kind = %v, want decode", domain.KindOf(err))
	}
	if attempts != 1 {
		t.Errorf("non-transient error retried: fn called %d times, want 1", attempts)
	}
}

func TestRemoteDateDir(t *testing.T) {
	d := time.Date(2025, time.July, 8, 10, 30, 0, 0, time.UTC)
	if got := RemoteDateDir(d); got != "July082025" {
		t.Errorf("RemoteDateDir = %q, want July082025", got)
	}
}

func TestBhavcopyFileDate(t *testing.T) {
	d := time.Date(2025, time.July, 11, 0, 0, 0, 0, time.UTC)
	if got := BhavcopyFileDate(d); got != "11072025" {
		t.Errorf("BhavcopyFileDate = %q, want 11072025", got)
	}
}

func TestPreviousBusinessDay(t *testing.T) {
	cases := []struct {
		name string
		ref  time.Time
		want time.Time
	}{
		{
			// Monday rolls back over the weekend to Friday.
			name: "monday",
			ref:  time.Date(2025, time.July, 14, 6, 0, 0, 0, time.UTC),
			want: time.Date(2025, time.July, 11, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "wednesday",
			ref:  time.Date(2025, time.July, 9, 6, 0, 0, 0, time.UTC),
			want: time.Date(2025, time.July, 8, 6, 0, 0, 0, time.UTC),
		},
		{
			// Sunday rolls back to Friday.
			name: "sunday",
			ref:  time.Date(2025, time.July, 13, 6, 0, 0, 0, time.UTC),
			want: time.Date(2025, time.July, 11, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PreviousBusinessDay(tc.ref, nil)
			if !got.Equal(tc.want) {
				t.Errorf("PreviousBusinessDay(%v) = %v, want %v", tc.ref, got, tc.want)
			}
		})
	}
}

func TestPreviousBusinessDayHoliday(t *testing.T) {
	// Tuesday 15 July with Monday 14 July marked as a holiday: the previous
	// business day is the prior Friday.
	holiday := func(d time.Time) bool {
		return d.Year() == 2025 && d.Month() == time.July && d.Day() == 14
	}
	ref := time.Date(2025, time.July, 15, 6, 0, 0, 0, time.UTC)
	want := time.Date(2025, time.July, 11, 6, 0, 0, 0, time.UTC)

	if got := PreviousBusinessDay(ref, holiday); !got.Equal(want) {
		t.Errorf("PreviousBusinessDay with holiday = %v, want %v", got, want)
	}
}
