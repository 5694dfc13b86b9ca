package shell

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theaaf/blackmagic-c2/internal/control/terminal"
	"github.com/theaaf/blackmagic-c2/internal/control/transport"
	"github.com/theaaf/blackmagic-c2/internal/control/transport/transporttest"
)

// calls is an ordered log shared by the fakes.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, s)
}

func (c *calls) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type fakeContainer struct {
	mu   sync.Mutex
	size terminal.Size
}

func (c *fakeContainer) Size() terminal.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *fakeContainer) Invalidate() {}

func (c *fakeContainer) setSize(s terminal.Size) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = s
}

type fakeView struct {
	calls     *calls
	container *fakeContainer
	mu        sync.Mutex
	listeners map[int]func()
	next      int
}

func newFakeView(log *calls) *fakeView {
	return &fakeView{
		calls:     log,
		container: &fakeContainer{size: terminal.Size{Width: 720, Height: 408}},
		listeners: map[int]func(){},
	}
}

func (v *fakeView) Container() terminal.Container { return v.container }

func (v *fakeView) OnResize(fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	id := v.next
	v.listeners[id] = fn
	v.calls.add("listen-resize")
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
		v.calls.add("remove-resize")
	}
}

func (v *fakeView) resize(s terminal.Size) {
	v.container.setSize(s)
	v.mu.Lock()
	fns := make([]func(), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (v *fakeView) listenerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}

// fakeSurface wraps a real Screen and logs lifecycle calls.
type fakeSurface struct {
	*terminal.Screen
	calls   *calls
	bindErr error
	fits    []terminal.Size
}

func (s *fakeSurface) Mount(c terminal.Container) error {
	s.calls.add("mount")
	return s.Screen.Mount(c)
}

func (s *fakeSurface) BindTransport(t transport.Transport) error {
	s.calls.add("bind")
	if s.bindErr != nil {
		return s.bindErr
	}
	return s.Screen.BindTransport(t)
}

func (s *fakeSurface) Fit(size terminal.Size) terminal.Geometry {
	s.calls.add("fit")
	s.fits = append(s.fits, size)
	return s.Screen.Fit(size)
}

func (s *fakeSurface) Dispose() {
	s.calls.add("dispose")
	s.Screen.Dispose()
}

type loggedTransport struct {
	*transporttest.Fake
	calls *calls
}

func (t loggedTransport) Close() error {
	t.calls.add("close")
	return t.Fake.Close()
}

type harness struct {
	calls      *calls
	view       *fakeView
	surfaces   []*fakeSurface
	transports []*transporttest.Fake
	endpoints  []transport.Endpoint
	bindErr    error
}

func newHarness() *harness {
	log := &calls{}
	return &harness{calls: log, view: newFakeView(log)}
}

func (h *harness) controller(loc Location) *Controller {
	return New("studio-a", loc,
		WithSurfaceFactory(func() terminal.Surface {
			s := &fakeSurface{Screen: terminal.NewScreen(), calls: h.calls, bindErr: h.bindErr}
			h.surfaces = append(h.surfaces, s)
			return s
		}),
		WithTransportFactory(func(_ context.Context, ep transport.Endpoint) transport.Transport {
			h.calls.add("open")
			f := transporttest.NewConnecting()
			h.transports = append(h.transports, f)
			h.endpoints = append(h.endpoints, ep)
			return loggedTransport{Fake: f, calls: h.calls}
		}),
	)
}

func TestMountSequence(t *testing.T) {
	h := newHarness()
	c := h.controller(Location{Secure: true, Host: "console.example", APIHost: "hub.example:8443"})

	require.NoError(t, c.Mount(context.Background(), h.view))

	assert.Equal(t, []string{"mount", "open", "bind", "fit", "listen-resize"}, h.calls.get())
	require.Len(t, h.endpoints, 1)
	assert.Equal(t, "wss://hub.example:8443/shell?agent=studio-a", h.endpoints[0].URL())
	assert.Equal(t, []terminal.Size{{Width: 720, Height: 408}}, h.surfaces[0].fits)
	assert.Equal(t, terminal.Geometry{Cols: 80, Rows: 24}, h.surfaces[0].Geometry())
	assert.Equal(t, transport.Connecting, c.State())
	assert.True(t, c.Mounted())
}

func TestResizeFits(t *testing.T) {
	h := newHarness()
	c := h.controller(Location{Host: "hub"})
	require.NoError(t, c.Mount(context.Background(), h.view))

	h.view.resize(terminal.Size{Width: 900, Height: 510})

	assert.Equal(t, terminal.Geometry{Cols: 100, Rows: 30}, h.surfaces[0].Geometry())
}

func TestUnmountOrder(t *testing.T) {
	h := newHarness()
	c := h.controller(Location{Host: "hub"})
	require.NoError(t, c.Mount(context.Background(), h.view))

	c.Unmount()
	c.Unmount()

	log := h.calls.get()
	assert.Equal(t, []string{"remove-resize", "dispose", "close"}, log[len(log)-3:])
	assert.Equal(t, 0, h.view.listenerCount())
	assert.Equal(t, 1, h.transports[0].Closes())
	assert.False(t, c.Mounted())
	assert.Equal(t, transport.Closed, c.State())

	// No fit after unmount.
	fits := len(h.surfaces[0].fits)
	h.view.resize(terminal.Size{Width: 100, Height: 100})
	assert.Len(t, h.surfaces[0].fits, fits)
}

func TestMountTwice(t *testing.T) {
	h := newHarness()
	c := h.controller(Location{Host: "hub"})
	require.NoError(t, c.Mount(context.Background(), h.view))

	assert.ErrorIs(t, c.Mount(context.Background(), h.view), ErrAlreadyMounted)
	assert.Len(t, h.transports, 1, "one transport per mounted controller")

	c.Unmount()
	require.NoError(t, c.Mount(context.Background(), h.view))
	assert.Len(t, h.transports, 2)
}

func TestMountUnmountCyclesLeaveNoListeners(t *testing.T) {
	h := newHarness()
	c := h.controller(Location{Host: "hub"})

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Mount(context.Background(), h.view))
		c.Unmount()
		assert.Equal(t, 0, h.view.listenerCount())
	}
	require.Len(t, h.transports, 5)
	for _, tr := range h.transports {
		assert.Equal(t, 1, tr.Closes())
	}
}

func TestBindFailureCleansUp(t *testing.T) {
	h := newHarness()
	h.bindErr = errors.New("boom")
	c := h.controller(Location{Host: "hub"})

	err := c.Mount(context.Background(), h.view)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, []string{"mount", "open", "bind", "dispose", "close"}, h.calls.get())
	assert.False(t, c.Mounted())
	assert.Equal(t, 0, h.view.listenerCount())
}

func TestErroredTransportFreezesScreen(t *testing.T) {
	h := newHarness()
	c := h.controller(Location{Host: "hub"})
	require.NoError(t, c.Mount(context.Background(), h.view))

	tr := h.transports[0]
	tr.SetOpen()
	tr.Emit("$ uptime\n 10:00 up 3 days\n")
	tr.Fail(errors.New("connection reset by peer"))
	tr.Emit("ignored\n")

	assert.Equal(t, transport.Errored, c.State())
	assert.True(t, c.Mounted(), "the view stays up after an error")
	assert.Equal(t, []string{"$ uptime", " 10:00 up 3 days"}, h.surfaces[0].Lines())
	assert.Len(t, h.transports, 1, "no reconnect")
	assert.ErrorIs(t, c.Input([]byte("x")), transport.ErrNotOpen)
}

func TestInputBeforeMount(t *testing.T) {
	c := newHarness().controller(Location{Host: "hub"})
	assert.ErrorIs(t, c.Input([]byte("x")), transport.ErrNotOpen)
}

func TestEndToEndOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shell" || r.URL.Query().Get("agent") != "studio-a" {
			http.Error(w, "unknown agent", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte("$ "))
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(websocket.BinaryMessage, []byte("echo:"+string(p)+"\n$ "))
		}
	}))
	defer srv.Close()

	var screen *terminal.Screen
	states := make(chan transport.State, 4)
	c := New("studio-a", Location{Host: strings.TrimPrefix(srv.URL, "http://")},
		WithSurfaceFactory(func() terminal.Surface {
			screen = terminal.NewScreen()
			return screen
		}),
		WithStateObserver(func(s transport.State) { states <- s }),
	)
	view := newFakeView(&calls{})
	require.NoError(t, c.Mount(context.Background(), view))
	defer c.Unmount()

	select {
	case s := <-states:
		require.Equal(t, transport.Open, s)
	case <-time.After(5 * time.Second):
		t.Fatal("transport never opened")
	}

	require.NoError(t, c.Input([]byte("ls")))
	require.Eventually(t, func() bool {
		lines := screen.Lines()
		return len(lines) == 2 && lines[0] == "$ echo:ls" && lines[1] == "$"
	}, 5*time.Second, 10*time.Millisecond)

	c.Unmount()
	assert.Equal(t, transport.Closed, c.State())
}
