package license

import (
	"fmt"
	"time"

	"github.com/faucetdb/licensor/internal/model"
)

// The transitions below are pure: they receive a private copy of the stored
// record and the current time, and describe the successor record, if any.

// touch records a contact without changing the revision.
func touch(cur *model.License, now time.Time) *model.License {
	cur.LastSeen = &now
	cur.UpdatedAt = now
	return cur
}

// bump marks cur as an accepted mutation.
func bump(cur *model.License, now time.Time) *model.License {
	cur.ServerRevision++
	cur.UpdatedAt = now
	return cur
}

func activateTransition(hwid string) func(*model.License, time.Time) decision {
	return func(cur *model.License, now time.Time) decision {
		switch {
		case cur.State == model.StateRevoked:
			return decision{status: StatusRevoked}
		case cur.IsExpired(now):
			return decision{status: StatusExpired}
		case !cur.Bound():
			cur.HWID = hwid
			return decision{status: StatusOK, next: bump(touch(cur, now), now), detail: "bound"}
		case cur.HWID == hwid:
			return decision{status: StatusOK, next: touch(cur, now)}
		default:
			return decision{status: StatusHWMismatch}
		}
	}
}

func renewTransition(days int) func(*model.License, time.Time) decision {
	return func(cur *model.License, now time.Time) decision {
		if cur.State == model.StateRevoked {
			return decision{status: StatusRevoked}
		}
		cur.ExpiryDays += days
		return decision{status: StatusOK, next: bump(cur, now), detail: fmt.Sprintf("extended by %d days", days)}
	}
}

func upgradeTransition(edition model.Edition) func(*model.License, time.Time) decision {
	return func(cur *model.License, now time.Time) decision {
		if cur.State == model.StateRevoked {
			return decision{status: StatusRevoked}
		}
		from := cur.Edition
		cur.Edition = edition
		return decision{status: StatusOK, next: bump(cur, now), detail: fmt.Sprintf("%s -> %s", from, edition)}
	}
}

// syncTransition compares the client's cached revision with the stored one.
// Only last_seen is ever written.
func syncTransition(hwid string, local int64) func(*model.License, time.Time) decision {
	return func(cur *model.License, now time.Time) decision {
		if !cur.Bound() || cur.HWID != hwid {
			return decision{status: StatusHWMismatch}
		}

		var st Status
		switch {
		case cur.State == model.StateRevoked:
			st = StatusRevoked
		case local == cur.ServerRevision:
			st = StatusNoChange
		case local < cur.ServerRevision:
			st = StatusUpdate
		default:
			st = StatusError
		}
		d := decision{status: st, next: touch(cur, now)}
		if st == StatusError {
			d.detail = fmt.Sprintf("local revision %d ahead of server", local)
		}
		return d
	}
}

func revokeTransition(reason string) func(*model.License, time.Time) decision {
	return func(cur *model.License, now time.Time) decision {
		if cur.State == model.StateRevoked {
			return decision{status: StatusOK, detail: "already revoked"}
		}
		cur.State = model.StateRevoked
		cur.RevokeReason = reason
		cur.RevokedAt = &now
		return decision{status: StatusOK, next: bump(cur, now), detail: reason}
	}
}
