package memory_test

import (
	"testing"

	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/store/memory"
	"github.com/xraph/signoff/store/storetest"
)

var _ store.Store = (*memory.Store)(nil)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(_ *testing.T) store.Store { return memory.New() })
}
