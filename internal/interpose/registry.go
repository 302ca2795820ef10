// Package interpose holds the pure-Go logic behind the interposer's
// vtable wrapping: the process-global device registry, the stride-aware
// pixel copy, and the ring liveness/lazy-mapping glue the capture-result
// hook drives. The cgo boundary that actually patches C function-pointer
// slots lives in vtable_cgo.go; everything here is plain Go and is
// exercised directly by tests without touching cgo.
package interpose

import "sync"

// DeviceID identifies an open camera device by its host-assigned
// identity (the device pointer value, as an opaque uintptr on the Go
// side). It is never dereferenced in Go; only used as a map key.
type DeviceID uintptr

// Registry is the process-global device->original-ops and
// device->framework-callbacks mapping described by spec §4.4. A single
// mutex guards both maps; entries are inserted on open/initialize and
// are never removed, since a process typically opens a camera only a
// handful of times over its lifetime.
type Registry struct {
	mu          sync.Mutex
	origOps     map[DeviceID]uintptr // original camera3_device_ops_t*
	callbacks   map[DeviceID]uintptr // original camera3_callback_ops_t*
	byWrappedCB map[uintptr]DeviceID // wrapped callback_ops* -> device, for the capture-result hook's reverse lookup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		origOps:     make(map[DeviceID]uintptr),
		callbacks:   make(map[DeviceID]uintptr),
		byWrappedCB: make(map[uintptr]DeviceID),
	}
}

// RecordOriginalOps stores the vendor's original device-ops pointer for
// dev, as observed at open() time.
func (r *Registry) RecordOriginalOps(dev DeviceID, ops uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origOps[dev] = ops
}

// OriginalOps returns the vendor's original device-ops pointer for dev,
// if an open() has recorded one.
func (r *Registry) OriginalOps(dev DeviceID) (uintptr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops, ok := r.origOps[dev]
	return ops, ok
}

// RecordCallbacks stores the framework's callback-ops pointer for dev,
// as observed at initialize() time.
func (r *Registry) RecordCallbacks(dev DeviceID, cb uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[dev] = cb
}

// Callbacks returns the framework's callback-ops pointer for dev, if
// initialize() has recorded one.
func (r *Registry) Callbacks(dev DeviceID) (uintptr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[dev]
	return cb, ok
}

// RecordWrappedCallbackOps records which device a wrapped callback-ops
// structure belongs to. The vendor module always calls the capture-
// result hook with this wrapped pointer as the receiver, which is the
// only handle the hook has on which device (and therefore which
// original callback-ops) the result belongs to.
func (r *Registry) RecordWrappedCallbackOps(wrapped uintptr, dev DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byWrappedCB[wrapped] = dev
}

// DeviceForWrappedCallbackOps reverses RecordWrappedCallbackOps.
func (r *Registry) DeviceForWrappedCallbackOps(wrapped uintptr) (DeviceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.byWrappedCB[wrapped]
	return dev, ok
}

// Len reports how many devices currently have a recorded original-ops
// entry. Used by tests asserting the registry tracks every open device
// (spec §8: "the interposer's map of device->original-ops contains an
// entry for every device the host currently holds open").
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.origOps)
}

// global is the single process-wide registry the cgo hooks use. Go
// forbids passing Go pointers carrying other Go pointers across the cgo
// boundary in ways that would require per-call allocation here, so hook
// bodies look this up once per call instead of threading it through a
// closure.
var global = NewRegistry()

// Global returns the process-wide registry.
func Global() *Registry {
	return global
}
