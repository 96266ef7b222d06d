package host

import "sync/atomic"

// Vec is a copy-on-write, immutable-once-published snapshot of a host
// sequence, shared between the registry and load-balancing policies
// (spec.md §3.1 "HostVec"). Readers hold a *Vec obtained from a Holder and
// may keep using it after a newer snapshot is published: they see a stable
// point-in-time view, never a torn one.
type Vec struct {
	hosts []*Host
}

// NewVec copies hosts into a fresh, owned slice.
func NewVec(hosts []*Host) *Vec {
	cp := make([]*Host, len(hosts))
	copy(cp, hosts)
	return &Vec{hosts: cp}
}

// Hosts returns the underlying slice. Callers must not mutate it.
func (v *Vec) Hosts() []*Host {
	if v == nil {
		return nil
	}
	return v.hosts
}

func (v *Vec) Len() int {
	if v == nil {
		return 0
	}
	return len(v.hosts)
}

// With returns a new Vec with host appended, leaving the receiver untouched.
func (v *Vec) With(h *Host) *Vec {
	hosts := v.Hosts()
	out := make([]*Host, len(hosts)+1)
	copy(out, hosts)
	out[len(hosts)] = h
	return &Vec{hosts: out}
}

// Without returns a new Vec with every host at addr removed, leaving the
// receiver untouched. If addr isn't present the returned Vec has an
// equivalent but freshly-copied slice.
func (v *Vec) Without(addr Address) *Vec {
	hosts := v.Hosts()
	out := make([]*Host, 0, len(hosts))
	for _, h := range hosts {
		if h.Address != addr {
			out = append(out, h)
		}
	}
	return &Vec{hosts: out}
}

// Holder publishes Vec snapshots for lock-free concurrent reads, the way
// spec.md §5 describes copy-on-write host vectors: "a writer clones
// whenever reference count is greater than one". Go has no refcounting, so
// Holder instead always swaps in a freshly built Vec — readers that grabbed
// the old pointer keep a perfectly valid, merely stale, snapshot.
type Holder struct {
	v atomic.Pointer[Vec]
}

// NewHolder creates a Holder seeded with hosts.
func NewHolder(hosts []*Host) *Holder {
	h := &Holder{}
	h.v.Store(NewVec(hosts))
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Vec {
	return h.v.Load()
}

// Store publishes a new snapshot.
func (h *Holder) Store(v *Vec) {
	h.v.Store(v)
}
