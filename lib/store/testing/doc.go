// Package testing provides a conformance test suite for store.IStore implementations.
//
// Usage:
//
//	func Test(t *testing.T) {
//		storetesting.RunStoreTests(t, "MyStore", func() (store.IStore, error) {
//			return mystore.New(), nil
//		})
//	}
package testing
