package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

var ErrKeyNotFound = errors.New("key not found")

type KvConfig struct {
	Connect  Connector // If nil, ConnectDefault() is used.
	Bucket   string
	MaxBytes int64 // Defaults to 64 MiB.
}

// KvStore keeps JSON encoded values of type T in a JetStream key-value bucket.
type KvStore[T any] struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKvStore[T any](ctx context.Context, cfg KvConfig) (*KvStore[T], error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}
	s, err := openKvStore[T](ctx, js, cfg)
	if err != nil {
		closeNc()
		return nil, err
	}
	s.closeNc = closeNc
	return s, nil
}

func openKvStore[T any](ctx context.Context, js jetstream.JetStream, cfg KvConfig) (*KvStore[T], error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 64 << 20
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: maxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &KvStore[T]{kv: kv}, nil
}

func (k *KvStore[T]) Close() {
	if k.closeNc != nil {
		k.closeNc()
	}
}

func (k *KvStore[T]) Set(ctx context.Context, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err = k.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore[T]) Get(ctx context.Context, key string) (out T, err error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return out, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return out, fmt.Errorf("get %s: %w", key, err)
	}
	if err = json.Unmarshal(v.Value(), &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func (k *KvStore[T]) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
