// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package sink

import (
	"math"
	"time"
)

// backoffFor returns the delay before retry attempt n, drawn uniformly from
// [base*n*ln(n), base*(n+1)*ln(n+1)] with both endpoints floored at base.
// roll supplies a value in [0, 1).
func backoffFor(base time.Duration, n int, roll func() float64) time.Duration {
	if base <= 0 {
		return 0
	}
	lo := scaled(base, n)
	hi := scaled(base, n+1)
	if lo < base {
		lo = base
	}
	if hi < lo {
		hi = lo
	}
	return lo + time.Duration(roll()*float64(hi-lo))
}

func scaled(base time.Duration, n int) time.Duration {
	if n < 1 {
		return base
	}
	f := float64(n) * math.Log(float64(n))
	return time.Duration(f * float64(base))
}
