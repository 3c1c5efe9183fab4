package bridge

// Free releases a token's backing memory exactly once. Callers (the
// Forwarder's release_resource/async_complete paths, and queue teardown
// at session destroy) must invoke this no more than once per token.
func (t ReleaseToken) Free(adapter Adapter, pool *Pool) {
	switch t.Kind {
	case FreeImage:
		if t.Image != nil {
			adapter.DestroyShmImage(pool, t.Image)
		}
	case FreeHeap:
		// t.Heap is garbage-collected Go memory; nothing to do beyond
		// dropping the reference, which the caller does by discarding
		// the token.
	}
}
