package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKvStore(t *testing.T) {
	type fruit struct {
		Name  string
		Count int
	}
	kv, err := NewKvStore[fruit](t.Context(), KvConfig{
		Bucket:  "fruits",
		Connect: NewTestContainer(t),
	})
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	_, err = kv.Get(t.Context(), "apple")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Set(t.Context(), "apple", fruit{Name: "apple", Count: 10}))
	v, err := kv.Get(t.Context(), "apple")
	require.NoError(t, err)
	require.Equal(t, fruit{Name: "apple", Count: 10}, v)

	require.NoError(t, kv.Delete(t.Context(), "apple"))
	_, err = kv.Get(t.Context(), "apple")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
