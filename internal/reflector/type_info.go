// Package reflector derives stable names for event and aggregate types.
package reflector

import (
	"reflect"
	"sync"
)

// maxCacheSize bounds the cache; it is cleared when the bound is reached.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	// Name is the fully qualified name, "pkg/path.TypeName".
	Name string
	// Short is the bare type name, "TypeName".
	Short string
	Type  reflect.Type
}

// IsZero reports whether ti describes no type, e.g. for a nil interface.
func (ti TypeInfo) IsZero() bool { return ti.Type == nil }

func TypeInfoOf(x any) TypeInfo { return TypeInfoForType(reflect.TypeOf(x)) }

func TypeInfoFor[T any]() TypeInfo { return TypeInfoForType(reflect.TypeFor[T]()) }

// TypeInfoForType describes t; pointer types are described by their element type.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{Short: t.Name(), Type: t}
	if t.PkgPath() != "" {
		ti.Name = t.PkgPath() + "." + t.Name()
	} else {
		ti.Name = t.String()
		ti.Short = t.String()
	}

	muCache.Lock()
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	muCache.Unlock()
	return ti
}
