package memory

import (
	"testing"

	"github.com/jmcleod/ironsession/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.RunRepositoryTests(t, NewRepository())
}
