// Package testing provides a standardised test and benchmark suite for the
// db.DB contract.
//
// The suite exercises the full public surface — point writes and reads,
// snapshots, deletes, batch writes (plain and compressed), plain and regex
// iteration, and concurrent access — against any factory-produced instance.
//
// Example usage:
//
//	func Test(t *testing.T) {
//		dbtesting.RunDBTests(t, "Single", func(t testing.TB) db.DB {
//			d, err := db.Open(filepath.Join(t.TempDir(), "x"),
//				db.Options{CreateIfMissing: true})
//			if err != nil {
//				t.Fatal(err)
//			}
//			return d
//		})
//	}
package testing
