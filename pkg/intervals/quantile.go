package intervals

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseQuantileLevel parses a quantile level from either p-notation (p90, p95)
// or decimal notation (0.90, 0.95).
//
// Examples:
//   - "p90" → 0.90
//   - "P95" → 0.95
//   - "0.8" → 0.80
//   - "" or "0" → 0 (disabled)
//
// Returns error if the format is invalid or value is out of range [0, 1].
func ParseQuantileLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)

	if s == "" || s == "0" {
		return 0, nil
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		if percentile < 0 || percentile > 100 {
			return 0, fmt.Errorf("percentile %v out of range [0, 100]", percentile)
		}
		return percentile / 100.0, nil
	}

	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
	}
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quantile %v out of range [0, 1]", q)
	}
	return q, nil
}

// ParseQuantileList parses a comma separated list of quantile levels,
// skipping disabled (zero) entries. Levels 0.5 and 1 are rejected: the first
// collapses to the forecast itself and the second has no finite band.
func ParseQuantileList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		q, err := ParseQuantileLevel(part)
		if err != nil {
			return nil, err
		}
		if q == 0 {
			continue
		}
		if err := CheckBandLevel(q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// CheckBandLevel reports whether q can name a quantile band: it must lie in
// (0, 1) and not round to 0.5.
func CheckBandLevel(q float64) error {
	switch {
	case q <= 0 || q >= 1:
		return fmt.Errorf("quantile %v has no finite band", q)
	case math.Abs(q-0.5) < 0.005:
		return fmt.Errorf("quantile %v rounds to 0.5, whose lower and upper columns coincide", q)
	}
	return nil
}

// FormatQuantileLevel formats a quantile level as p-notation for display.
func FormatQuantileLevel(q float64) string {
	if q == 0 {
		return "disabled"
	}
	percentile := q * 100
	if percentile == math.Trunc(percentile) {
		return fmt.Sprintf("p%d", int(percentile))
	}
	return fmt.Sprintf("p%.1f", percentile)
}

// QuantileColumns returns the lower and upper band column names for quantile
// level q: {target}_{1-q}th_pc and {target}_{q}th_pc, with levels rounded to
// two decimals. q and 1-q name the same pair, so the lower column always
// carries the smaller level. Levels rounding to 0.5 give two equal names;
// CheckBandLevel rejects them.
func QuantileColumns(target string, q float64) (lower, upper string) {
	hi := math.Max(q, 1-q)
	return fmt.Sprintf("%s_%sth_pc", target, round2(1-hi)), fmt.Sprintf("%s_%sth_pc", target, round2(hi))
}

func round2(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
