// Package validation checks dashboard query parameters before they reach the views.
package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/sensor-dashboard/internal/dashboard"
)

// ErrTabInvalid is returned when tab is neither live nor history.
var ErrTabInvalid = errors.New("tab must be live or history")

// ErrPageInvalid is returned when page is not an integer.
var ErrPageInvalid = errors.New("page must be an integer")

// ValidateTab trims and lowercases the input. Empty selects the live tab.
func ValidateTab(input string) (dashboard.Tab, error) {
	switch dashboard.Tab(strings.ToLower(strings.TrimSpace(input))) {
	case "", dashboard.TabLive:
		return dashboard.TabLive, nil
	case dashboard.TabHistory:
		return dashboard.TabHistory, nil
	}
	return "", ErrTabInvalid
}

// ParsePage parses a 1-based page number. Empty means page 1. Any integer is accepted,
// including ones past either end: the paginator clamps them. Integers too large for int
// saturate instead of failing. Anything else is ErrPageInvalid, for 400 INVALID_PAGE responses.
func ParsePage(input string) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err == nil {
		return n, nil
	}
	var numErr *strconv.NumError
	if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
		if strings.HasPrefix(s, "-") {
			return math.MinInt, nil
		}
		return math.MaxInt, nil
	}
	return 0, ErrPageInvalid
}
