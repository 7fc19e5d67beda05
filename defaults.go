package itemstore

import "maps"

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// applyUpdate shallow-merges map updates over map data. Any other update
// that is itself a V replaces the data; otherwise data is kept.
func applyUpdate[V, U any](data V, update U) V {
	if u, ok := any(update).(map[string]any); ok {
		d, isMap := any(data).(map[string]any)
		if isMap || any(data) == nil {
			out := make(map[string]any, len(d)+len(u))
			maps.Copy(out, d)
			maps.Copy(out, u)
			if v, ok := any(out).(V); ok {
				return v
			}
		}
	}
	if v, ok := any(update).(V); ok {
		return v
	}
	return data
}

// mergeUpdates shallow-merges map updates; for other types the later update wins.
func mergeUpdates[U any](a, b U) U {
	am, aok := any(a).(map[string]any)
	bm, bok := any(b).(map[string]any)
	if aok && bok {
		out := make(map[string]any, len(am)+len(bm))
		maps.Copy(out, am)
		maps.Copy(out, bm)
		if u, ok := any(out).(U); ok {
			return u
		}
	}
	return b
}
