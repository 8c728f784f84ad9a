// Package stats aggregates license counts. It only reads.
package stats

import (
	"context"
	"time"

	"github.com/faucetdb/licensor/internal/model"
)

// Scanner iterates every license.
type Scanner interface {
	Scan(ctx context.Context, fn func(*model.License) error) error
}

// Windows are the look-ahead horizons reported as "expiring within".
var (
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour
)

// Compute scans every license once and counts it by derived status, edition,
// binding and proximity to expiry as seen at now. Revoked licenses are not
// counted as expiring.
func Compute(ctx context.Context, s Scanner, now time.Time) (model.Statistics, error) {
	out := model.NewStatistics()
	err := s.Scan(ctx, func(l *model.License) error {
		Add(&out, l, now)
		return nil
	})
	if err != nil {
		return model.Statistics{}, err
	}
	out.GeneratedAt = now.UTC().Format(time.RFC3339)
	return out, nil
}

// Add folds one license into st.
func Add(st *model.Statistics, l *model.License, now time.Time) {
	st.Total++
	st.ByEdition[l.Edition]++
	if l.Bound() {
		st.Bound++
	} else {
		st.Unbound++
	}

	switch l.Status(now) {
	case model.LicenseRevoked:
		st.Revoked++
	case model.LicenseExpired:
		st.Expired++
	case model.LicenseActive:
		st.Active++
		left := l.ExpiresAt().Sub(now)
		if left <= Window7d {
			st.ExpiringIn7d++
		}
		if left <= Window30d {
			st.ExpiringIn30d++
		}
	}
}
