package util

import "reflect"

// Same reports reference identity for reference kinds (maps, pointers,
// chans, funcs, slices by header) and == for comparable values.
// Non-comparable values that are not references are never Same.
func Same(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// Identifiable reports whether v can serve as a handler identity: non-nil,
// not a nil pointer, and safe to compare with ==.
func Identifiable(v any) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return false
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return false
	}
	return rv.Comparable()
}
