package registry

// RegisterVirtual marks `name` as a virtual agent: a recipient that
// terminates at this process without an actual transport link. Grounded on
// the original's virtual_agent.rs — referenced by spec.md §4.4: a receiver
// must refuse a message whose recipient does not match its own service
// name "unless the recipient is a virtual agent registered at this
// process."
func (r *Registry) RegisterVirtual(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.virtual[name] = true
}

// IsVirtual reports whether `name` was registered as a virtual agent.
func (r *Registry) IsVirtual(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.virtual[name]
}
