package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/licensor/internal/model"
)

type sliceScanner []*model.License

func (s sliceScanner) Scan(_ context.Context, fn func(*model.License) error) error {
	for _, l := range s {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

type failScanner struct{}

func (failScanner) Scan(context.Context, func(*model.License) error) error {
	return errors.New("scan failed")
}

func TestCompute(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	created := now.AddDate(0, 0, -10)
	lic := func(days int, ed model.Edition, st model.State, hwid string) *model.License {
		return &model.License{CreatedAt: created, ExpiryDays: days, Edition: ed, State: st, HWID: hwid}
	}

	got, err := Compute(context.Background(), sliceScanner{
		lic(365, model.EditionBasic, model.StateActive, "hw"),     // active
		lic(15, model.EditionPro, model.StateActive, ""),          // expires in 5 days
		lic(30, model.EditionPro, model.StateActive, "hw"),        // expires in 20 days
		lic(5, model.EditionEnterprise, model.StateActive, "hw"),  // expired
		lic(365, model.EditionEnterprise, model.StateRevoked, ""), // revoked
		lic(12, model.EditionBasic, model.StateRevoked, "hw"),     // revoked, not "expiring"
	}, now)
	require.NoError(t, err)

	assert.Equal(t, 6, got.Total)
	assert.Equal(t, 3, got.Active)
	assert.Equal(t, 1, got.Expired)
	assert.Equal(t, 2, got.Revoked)
	assert.Equal(t, 4, got.Bound)
	assert.Equal(t, 2, got.Unbound)
	assert.Equal(t, 1, got.ExpiringIn7d)
	assert.Equal(t, 2, got.ExpiringIn30d)
	assert.Equal(t, map[model.Edition]int{
		model.EditionBasic:      2,
		model.EditionPro:        2,
		model.EditionEnterprise: 2,
	}, got.ByEdition)
	assert.Equal(t, "2025-06-01T00:00:00Z", got.GeneratedAt)
}

func TestComputeEmpty(t *testing.T) {
	got, err := Compute(context.Background(), sliceScanner{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, got.Total)
	assert.Len(t, got.ByEdition, 3)
}

func TestComputeScanError(t *testing.T) {
	_, err := Compute(context.Background(), failScanner{}, time.Now())
	assert.Error(t, err)
}
