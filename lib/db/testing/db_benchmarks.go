package testing

import (
	"fmt"
	"testing"

	"github.com/bitdegrade/bdkv/lib/db"
	"github.com/bitdegrade/bdkv/lib/logf"
)

// RunDBBenchmarks runs the standard benchmark suite for a db.DB
// implementation.
func RunDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			d := factory(b)
			defer d.Close()
			value := []byte("benchmark-value")
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i%100000))
				if err := d.Put(db.WriteOptions{}, key, value); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run("PutSync", func(b *testing.B) {
			d := factory(b)
			defer d.Close()
			value := []byte("benchmark-value")
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i%100000))
				if err := d.Put(db.WriteOptions{Sync: true}, key, value); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run("Get", func(b *testing.B) {
			d := factory(b)
			defer d.Close()
			for i := 0; i < 10000; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i))
				if err := d.Put(db.WriteOptions{}, key, []byte("benchmark-value")); err != nil {
					b.Fatal(err)
				}
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i%10000))
				if _, _, err := d.Get(db.ReadOptions{}, key); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run("GetParallel", func(b *testing.B) {
			d := factory(b)
			defer d.Close()
			for i := 0; i < 10000; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i))
				if err := d.Put(db.WriteOptions{}, key, []byte("benchmark-value")); err != nil {
					b.Fatal(err)
				}
			}
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					key := []byte(fmt.Sprintf("key-%08d", i%10000))
					if _, _, err := d.Get(db.ReadOptions{}, key); err != nil {
						b.Fatal(err)
					}
					i++
				}
			})
		})

		b.Run("BatchWrite", func(b *testing.B) {
			d := factory(b)
			defer d.Close()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				kvs := make([]logf.KV, 16)
				for j := range kvs {
					kvs[j] = logf.KV{
						Key:   []byte(fmt.Sprintf("batch-%08d-%02d", i, j)),
						Value: []byte("benchmark-value"),
					}
				}
				if err := d.Write(db.WriteOptions{}, kvs); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run("Iterate", func(b *testing.B) {
			d := factory(b)
			defer d.Close()
			for i := 0; i < 10000; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i))
				if err := d.Put(db.WriteOptions{}, key, []byte("benchmark-value")); err != nil {
					b.Fatal(err)
				}
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				it := d.MakeIterator(nil)
				for ; it.Valid(); it.Next() {
				}
				if err := it.Close(); err != nil {
					b.Fatal(err)
				}
			}
		})
	})
}
