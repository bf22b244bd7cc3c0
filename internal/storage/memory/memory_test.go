package memory

import (
	"testing"

	"github.com/mmynk/kettle/internal/storage"
	"github.com/mmynk/kettle/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.RunLocalStoreTests(t, func(t *testing.T) storage.LocalStore {
		return New()
	})
}
