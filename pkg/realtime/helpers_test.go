package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
)

type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	fail      bool
	closed    bool
	closeCode int
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeTransport) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// messages decodes every frame received so far.
func (f *fakeTransport) messages(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range f.messages(t) {
		out = append(out, m["type"].(string))
	}
	return out
}

// last returns the newest frame of the given type, or nil.
func (f *fakeTransport) last(t *testing.T, typ string) map[string]interface{} {
	t.Helper()
	msgs := f.messages(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == typ {
			return msgs[i]
		}
	}
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testRegistryConf(name string, clock *fakeClock) RegistryConf {
	return RegistryConf{Name: name, Clock: clock.Now, Logger: logging.NewNop()}
}

func newTestService(clock *fakeClock) *Service {
	return NewService(ServiceConf{
		Clock:          clock.Now,
		Logger:         logging.NewNop(),
		JobGracePeriod: time.Minute,
	}, nil, nil)
}
