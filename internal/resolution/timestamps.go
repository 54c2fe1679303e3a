package resolution

import "time"

// IsDateOnly reports whether t is exactly midnight UTC. Exports that only
// carry dates produce such timestamps.
func IsDateOnly(t time.Time) bool {
	u := t.UTC()
	return u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Compare orders two timestamps, by date alone when either is date-only
func Compare(a, b time.Time) int {
	if IsDateOnly(a) || IsDateOnly(b) {
		return dateOf(a).Compare(dateOf(b))
	}
	return a.Compare(b)
}

// Within reports whether a and b are no more than tol apart. A date-only
// timestamp is within tolerance of anything on the same date.
func Within(a, b time.Time, tol time.Duration) bool {
	if (IsDateOnly(a) || IsDateOnly(b)) && dateOf(a).Equal(dateOf(b)) {
		return true
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// NewerThan is the incremental sync gate: true when ts is after lastSync.
// Date-only timestamps pass when their date is not before the lastSync date,
// and zero timestamps always pass.
func NewerThan(ts, lastSync time.Time) bool {
	if ts.IsZero() || lastSync.IsZero() {
		return true
	}
	if IsDateOnly(ts) {
		return !dateOf(ts).Before(dateOf(lastSync))
	}
	return ts.After(lastSync)
}
