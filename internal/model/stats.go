package model

// Statistics is an aggregate snapshot of all licenses at one instant.
type Statistics struct {
	Total         int             `json:"total"`
	Active        int             `json:"active"`
	Expired       int             `json:"expired"`
	Revoked       int             `json:"revoked"`
	Bound         int             `json:"bound"`
	Unbound       int             `json:"unbound"`
	ByEdition     map[Edition]int `json:"by_edition"`
	ExpiringIn7d  int             `json:"expiring_within_7_days"`
	ExpiringIn30d int             `json:"expiring_within_30_days"`
	GeneratedAt   string          `json:"generated_at"`
}

// NewStatistics returns a zeroed snapshot with every edition present.
func NewStatistics() Statistics {
	s := Statistics{ByEdition: make(map[Edition]int, len(Editions))}
	for _, e := range Editions {
		s.ByEdition[e] = 0
	}
	return s
}
