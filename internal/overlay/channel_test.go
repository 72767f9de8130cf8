//go:build unix

package overlay

import (
	"errors"
	"image"
	"testing"
	"unsafe"

	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/shm"
	"github.com/breeze-rmm/offscreen/internal/stats"
)

type fakeTransport struct {
	resolves int
	calls    int
	accept   bool
	version  uint32
	rec      nativeRecordV2
	v1       nativeRecordV1
	handle   shm.Handle
}

func (ft *fakeTransport) resolver(err error) Resolver {
	return func(module, symbol string) (SendFunc, error) {
		ft.resolves++
		if err != nil {
			return nil, err
		}
		return func(version uint32, data unsafe.Pointer) bool {
			ft.calls++
			ft.version = version
			switch version {
			case RecordV1:
				ft.v1 = *(*nativeRecordV1)(data)
				ft.handle = shm.Handle(ft.v1.Data)
			case RecordV2:
				ft.rec = *(*nativeRecordV2)(data)
				ft.handle = shm.Handle(ft.rec.Data)
			}
			return ft.accept
		}, nil
	}
}

func newTestFrame(t *testing.T, done func()) *frame.Frame {
	t.Helper()
	size := gfx.Size{Width: 800, Height: 600}
	r, err := shm.NewUnsafe(size.Width * size.Height * 4)
	if err != nil {
		t.Fatal(err)
	}
	return frame.NewUnsafe(size, image.Rect(10, 20, 110, 70), r, done)
}

func TestSendDeliversRecord(t *testing.T) {
	ft := &fakeTransport{accept: true}
	m := stats.New()
	c := NewChannel(Options{Resolve: ft.resolver(nil), Metrics: m})
	c.SetTargetProcess(7)
	c.SetActive(true)

	completed := 0
	c.Send(newTestFrame(t, func() { completed++ }))

	if ft.calls != 1 || completed != 1 {
		t.Fatalf("calls = %d, completed = %d", ft.calls, completed)
	}
	if ft.version != RecordV2 {
		t.Fatalf("version = %d, want 2", ft.version)
	}
	want := nativeRecordV2{
		ProcessID: 7, Width: 800, Height: 600,
		Data: ft.rec.Data, DataSize: 800 * 600 * 4,
		DamageX: 10, DamageY: 20, DamageW: 100, DamageH: 50,
	}
	if ft.rec != want {
		t.Fatalf("record = %+v, want %+v", ft.rec, want)
	}
	// The consumer owns the accepted handle.
	shm.CloseHandle(ft.handle)

	if got := m.Snapshot().FramesDelivered; got != 1 {
		t.Fatalf("FramesDelivered = %d", got)
	}
}

func TestSendLegacyRecord(t *testing.T) {
	ft := &fakeTransport{accept: true}
	c := NewChannel(Options{Resolve: ft.resolver(nil), RecordVersion: RecordV1})
	c.SetTargetProcess(7)
	c.SetActive(true)
	c.Send(newTestFrame(t, nil))
	defer shm.CloseHandle(ft.handle)

	if ft.version != RecordV1 || ft.v1.Length != 800*600*4 || ft.v1.Width != 800 {
		t.Fatalf("v1 record = %+v (version %d)", ft.v1, ft.version)
	}
}

func TestSendSkipsWithoutConsumer(t *testing.T) {
	tests := []struct {
		name   string
		pid    uint32
		active bool
	}{
		{"zero pid", 0, true},
		{"inactive", 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{accept: true}
			c := NewChannel(Options{Resolve: ft.resolver(nil)})
			c.SetTargetProcess(tt.pid)
			c.SetActive(tt.active)

			completed := 0
			c.Send(newTestFrame(t, func() { completed++ }))
			if ft.calls != 0 {
				t.Fatalf("transport called %d times", ft.calls)
			}
			if completed != 1 {
				t.Fatalf("completed = %d, want 1", completed)
			}
		})
	}
}

func TestSendSkipsInvalidFrame(t *testing.T) {
	ft := &fakeTransport{accept: true}
	c := NewChannel(Options{Resolve: ft.resolver(nil)})
	c.SetTargetProcess(7)
	c.SetActive(true)

	f := newTestFrame(t, nil)
	h, err := f.TakeHandle()
	if err != nil {
		t.Fatal(err)
	}
	shm.CloseHandle(h)

	c.Send(f)
	if ft.calls != 0 {
		t.Fatal("invalid frame reached the transport")
	}
}

func TestTransportResolvedOnce(t *testing.T) {
	ft := &fakeTransport{}
	c := NewChannel(Options{Resolve: ft.resolver(errors.New("not loaded"))})
	c.SetTargetProcess(7)
	c.SetActive(true)

	completed := 0
	for i := 0; i < 3; i++ {
		c.Send(newTestFrame(t, func() { completed++ }))
	}
	if ft.resolves != 1 {
		t.Fatalf("resolves = %d, want 1", ft.resolves)
	}
	if completed != 3 {
		t.Fatalf("completed = %d, want 3", completed)
	}
	ok, err := c.Available()
	if ok || err == nil {
		t.Fatalf("Available = %v, %v", ok, err)
	}
}

func TestRejectedHandleIsClosed(t *testing.T) {
	ft := &fakeTransport{accept: false}
	c := NewChannel(Options{Resolve: ft.resolver(nil)})
	c.SetTargetProcess(7)
	c.SetActive(true)

	c.Send(newTestFrame(t, nil))
	if ft.calls != 1 {
		t.Fatalf("calls = %d", ft.calls)
	}
	// Closing again must fail: the channel already released it.
	if err := shm.CloseHandle(ft.handle); err == nil {
		t.Fatal("rejected handle was not closed by the channel")
	}
}
