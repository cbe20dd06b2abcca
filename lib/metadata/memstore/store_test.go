package memstore

import (
	"testing"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	metatesting "github.com/ValentinKolb/saltfish/lib/metadata/testing"
)

func Test(t *testing.T) {
	metatesting.RunStoreTests(t, "MemoryStore", func(users ...dataset.User) (metadata.IStore, error) {
		return NewMemoryStore(users...), nil
	})
}
