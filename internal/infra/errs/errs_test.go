package errs_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"feedfusion/internal/infra/errs"
)

func TestWrappers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{
			name:     "notFound",
			err:      errs.NotFoundf("news id=%d", 42),
			sentinel: errs.ErrNotFound,
			contains: "news id=42",
		},
		{
			name:     "exists",
			err:      errs.Existsf("subscription user=%d channel=%d", 1, 2),
			sentinel: errs.ErrObjectExists,
			contains: "subscription user=1 channel=2",
		},
		{
			name:     "outOfRange",
			err:      errs.OutOfRangef("id %d", int64(1)<<40),
			sentinel: errs.ErrValueOutOfRange,
			contains: "id",
		},
		{
			name:     "missingHeaders",
			err:      errs.MissingHeaders([]string{"category"}),
			sentinel: errs.ErrMissingCSVHeaders,
			contains: "category",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if !errors.Is(tc.err, tc.sentinel) {
				t.Fatalf("errors.Is(%v, sentinel) = false", tc.err)
			}
			if !strings.Contains(tc.err.Error(), tc.contains) {
				t.Fatalf("error %q missing context %q", tc.err, tc.contains)
			}
		})
	}
}

func TestWrappedSentinelSurvivesExtraWrap(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("handle request: %w", errs.NotFoundf("channel id=%d", 7))
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("errors.Is() = false for %v", err)
	}
}
