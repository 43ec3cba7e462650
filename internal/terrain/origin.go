package terrain

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// OriginListener receives the translation applied by a rebase. Render-space
// positions must subtract delta in the same frame.
type OriginListener func(delta mgl64.Vec3)

// FloatingOrigin tracks the world offset of render space. A rebase is a pure
// coordinate translation; it never touches terrain data.
type FloatingOrigin struct {
	mu        sync.Mutex
	offset    mgl64.Vec3
	threshold float64
	listeners []originSub
	nextID    int
}

type originSub struct {
	id int
	fn OriginListener
}

// NewFloatingOrigin creates an origin that rebases once the viewer is more
// than threshold meters from it.
func NewFloatingOrigin(threshold float64) *FloatingOrigin {
	return &FloatingOrigin{threshold: threshold}
}

// Offset returns the accumulated world offset.
func (o *FloatingOrigin) Offset() mgl64.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset
}

// Subscribe registers fn for rebase notifications and returns a function
// removing it. Listeners run in subscription order.
func (o *FloatingOrigin) Subscribe(fn OriginListener) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, originSub{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.listeners {
			if s.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// CheckAndRebase shifts the origin onto the viewer's local position when it
// is farther than the threshold, notifying listeners. It reports whether a
// rebase happened.
func (o *FloatingOrigin) CheckAndRebase(localX, localZ float64) bool {
	if localX*localX+localZ*localZ <= o.threshold*o.threshold {
		return false
	}

	delta := mgl64.Vec3{localX, 0, localZ}
	o.mu.Lock()
	o.offset = o.offset.Add(delta)
	subs := make([]originSub, len(o.listeners))
	copy(subs, o.listeners)
	o.mu.Unlock()

	for _, s := range subs {
		s.fn(delta)
	}
	return true
}

// ToLocal converts a world position to render space.
func (o *FloatingOrigin) ToLocal(world mgl64.Vec3) mgl64.Vec3 {
	return world.Sub(o.Offset())
}

// ToWorld converts a render-space position to world space.
func (o *FloatingOrigin) ToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return local.Add(o.Offset())
}

