package memory

import (
	"testing"

	"github.com/faucetdb/licensor/internal/store"
	"github.com/faucetdb/licensor/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestUsage(t *testing.T) {
	storetest.RunUsage(t, func(t *testing.T) store.UsageStore { return New() })
}
