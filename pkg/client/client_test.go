package client_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianh20/many-go/pkg/client"
	"github.com/brianh20/many-go/pkg/cosekey"
	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/message"
	"github.com/brianh20/many-go/pkg/module"
	"github.com/brianh20/many-go/pkg/server"
	"github.com/brianh20/many-go/pkg/signer"
)

func newSigner(t *testing.T) *signer.SoftwareSigner {
	t.Helper()
	kp, err := cosekey.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := signer.NewSoftwareSigner(kp.Private)
	if err != nil {
		t.Fatalf("new software signer: %v", err)
	}
	return s
}

func TestCallRawEcho(t *testing.T) {
	self := newSigner(t)
	srv, err := server.New(server.Config{Addr: "127.0.0.1:0", Name: "test-server"}, self, module.NewAsyncManager(time.Minute))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	selfID, err := self.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	c := client.New(ts.URL, selfID, newSigner(t))

	payload := []byte{0x63, 'f', 'o', 'o'}
	resp, err := c.CallRaw("base.echo", payload, false)
	if err != nil {
		t.Fatalf("call raw: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	if string(resp.Data) != string(payload) {
		t.Errorf("expected echoed payload %x, got %x", payload, resp.Data)
	}
}

// TestPollAsyncTerminatesOnceBackendCompletes exercises testable property 9:
// CallRaw's poll loop terminates once the backend finishes, without waiting
// out its full poll budget.
func TestPollAsyncTerminatesOnceBackendCompletes(t *testing.T) {
	self := newSigner(t)
	async := module.NewAsyncManager(time.Minute)
	backendDelay := 30 * time.Millisecond

	asyncMod, err := module.NewModule(module.EndpointDescriptor{
		Name: "test.async",
		Invoke: func(identity.Identity, interface{}) (interface{}, error) {
			return async.Submit(func() message.ResponseMessage {
				time.Sleep(backendDelay)
				return message.ResponseMessage{Data: []byte("finished")}
			})
		},
	})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}

	srv, err := server.New(server.Config{Addr: "127.0.0.1:0", Name: "test-server"}, self, async)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Register(asyncMod); err != nil {
		t.Fatalf("register: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	selfID, err := self.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	c := client.New(ts.URL, selfID, newSigner(t))
	c.AsyncPollInterval = 10 * time.Millisecond
	c.AsyncPollBudget = 50

	start := time.Now()
	resp, err := c.CallRaw("test.async", nil, false)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("call raw: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	if string(resp.Data) != "finished" {
		t.Errorf("expected data %q, got %q", "finished", resp.Data)
	}

	budgetCeiling := time.Duration(c.AsyncPollBudget) * c.AsyncPollInterval
	if elapsed >= budgetCeiling {
		t.Errorf("expected polling to terminate well before the budget ceiling %v, took %v", budgetCeiling, elapsed)
	}
}

func TestPollAsyncReturnsUnknownForUnissuedToken(t *testing.T) {
	self := newSigner(t)
	async := module.NewAsyncManager(time.Minute)

	asyncMod, err := module.NewModule(module.EndpointDescriptor{
		Name: "test.bogus_async",
		Invoke: func(identity.Identity, interface{}) (interface{}, error) {
			return module.Pending{Token: []byte("never-issued-to-the-manager")}, nil
		},
	})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}

	srv, err := server.New(server.Config{Addr: "127.0.0.1:0", Name: "test-server"}, self, async)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Register(asyncMod); err != nil {
		t.Fatalf("register: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	selfID, err := self.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	c := client.New(ts.URL, selfID, newSigner(t))
	c.AsyncPollInterval = 5 * time.Millisecond
	c.AsyncPollBudget = 5

	if _, err := c.CallRaw("test.bogus_async", nil, false); err == nil {
		t.Error("expected an error for a token the async manager never issued")
	}
}
