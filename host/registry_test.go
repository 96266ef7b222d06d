package host

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	BaseListener
	events []string
}

func (l *recordingListener) OnHostAdded(h *Host) { l.events = append(l.events, "added:"+h.String()) }
func (l *recordingListener) OnHostUp(h *Host)     { l.events = append(l.events, "up:"+h.String()) }
func (l *recordingListener) OnHostDown(h *Host)   { l.events = append(l.events, "down:"+h.String()) }

func TestRegistryAddedPrecedesUp(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	l := &recordingListener{}
	r.AddListener(l)

	addr := Address{Host: "127.0.0.1", Port: 9042}
	r.OnAdd(New(addr))

	require.Equal(t, []string{"added:127.0.0.1:9042", "up:127.0.0.1:9042"}, l.events)
}

func TestRegistryLivenessTransitionsOnce(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	l := &recordingListener{}
	r.AddListener(l)

	addr := Address{Host: "127.0.0.1", Port: 9042}
	r.OnAdd(New(addr))
	l.events = nil

	r.NotifyDown(addr)
	r.NotifyDown(addr) // no-op: already down
	r.NotifyUp(addr)
	r.NotifyUp(addr) // no-op: already up

	require.Equal(t, []string{"down:127.0.0.1:9042", "up:127.0.0.1:9042"}, l.events)
}

func TestRegistryRemoveUnknownIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	l := &recordingListener{}
	r.AddListener(l)

	r.OnRemove(Address{Host: "10.0.0.1", Port: 9042})
	require.Empty(t, l.events)
}

func TestVecWithWithout(t *testing.T) {
	t.Parallel()

	a := New(Address{Host: "a", Port: 9042})
	b := New(Address{Host: "b", Port: 9042})

	v := NewVec(nil).With(a).With(b)
	require.Equal(t, 2, v.Len())

	v2 := v.Without(a.Address)
	require.Equal(t, 1, v2.Len())
	require.Equal(t, 2, v.Len(), "original snapshot must not mutate")
}

func TestHolderPublishesIndependentSnapshots(t *testing.T) {
	t.Parallel()

	a := New(Address{Host: "a", Port: 9042})
	h := NewHolder([]*Host{a})
	old := h.Load()

	b := New(Address{Host: "b", Port: 9042})
	h.Store(old.With(b))

	require.Equal(t, 1, old.Len())
	require.Equal(t, 2, h.Load().Len())
}
