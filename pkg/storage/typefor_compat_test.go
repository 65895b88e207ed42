package storage

import "reflect"

// typeFor mirrors reflect.TypeFor (Go 1.22+) for older toolchains.
func typeFor[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
