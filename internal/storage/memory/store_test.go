package memory_test

import (
	"testing"

	"medminder/internal/storage/memory"
	"medminder/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) storetest.Backend { return memory.New() })
}
