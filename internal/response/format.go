package response

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var wonUnits = []struct {
	value uint64
	name  string
}{
	{1_000_000_000_000, "조"},
	{100_000_000, "억"},
	{10_000, "만"},
}

// FormatWon renders an amount grouped by Korean magnitude units, e.g.
// 150000000 -> "1억 5000만원".
func FormatWon(amount int64) string {
	if amount == 0 {
		return "0원"
	}
	sign := ""
	rest := uint64(amount)
	if amount < 0 {
		sign = "-"
		// Negating in uint64 keeps math.MinInt64 exact.
		rest = -rest
	}

	parts := make([]string, 0, 4)
	for _, u := range wonUnits {
		if q := rest / u.value; q > 0 {
			parts = append(parts, strconv.FormatUint(q, 10)+u.name)
			rest %= u.value
		}
	}
	if rest > 0 {
		parts = append(parts, strconv.FormatUint(rest, 10))
	}
	return sign + strings.Join(parts, " ") + "원"
}

// FormatWonWithRaw appends the plain integer, e.g. "5100만원 (51000000원)".
func FormatWonWithRaw(amount int64) string {
	return fmt.Sprintf("%s (%d원)", FormatWon(amount), amount)
}

// FormatDays collapses a day count to the largest unit that divides it
// exactly. Fractions of a day are dropped and counts past int64, including
// +Inf, read as unbounded.
func FormatDays(days float64) string {
	if math.IsNaN(days) || days < 1 {
		return "0일"
	}
	if days >= 1<<63 {
		return "무기한"
	}
	d := int64(days)
	switch {
	case d%365 == 0:
		return fmt.Sprintf("%d년", d/365)
	case d%30 == 0:
		return fmt.Sprintf("%d개월", d/30)
	default:
		return fmt.Sprintf("%d일", d)
	}
}

// FormatAgeRange renders an enrolment age range. Either bound may be absent.
func FormatAgeRange(lo, hi float64, hasMin, hasMax bool) string {
	switch {
	case hasMin && hasMax:
		return fmt.Sprintf("만 %d세 ~ %d세", int(lo), int(hi))
	case hasMin:
		return fmt.Sprintf("만 %d세 이상", int(lo))
	case hasMax:
		return fmt.Sprintf("만 %d세 이하", int(hi))
	default:
		return "제한 없음"
	}
}
