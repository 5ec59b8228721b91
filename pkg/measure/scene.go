package measure

import "github.com/tanagerlabs/go-fathom/pkg/platform"

// resourceSet tracks every scene resource the engine allocates so
// teardown can dispose all of them, whatever phase the session died in.
type resourceSet struct {
	ids []platform.ResourceID
}

func (r *resourceSet) Track(id platform.ResourceID) {
	if id == "" {
		return
	}
	r.ids = append(r.ids, id)
}

// Forget drops an id that was already disposed individually (undo,
// redo) so teardown does not double-remove it.
func (r *resourceSet) Forget(id platform.ResourceID) {
	for i, have := range r.ids {
		if have == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			return
		}
	}
}

// Drain returns every tracked id and empties the set.
func (r *resourceSet) Drain() []platform.ResourceID {
	ids := r.ids
	r.ids = nil
	return ids
}

func (r *resourceSet) Len() int {
	return len(r.ids)
}
