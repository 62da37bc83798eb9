package control

import (
	"context"
	"path/filepath"
	"testing"
)

type fakeHandler struct {
	deployPath    string
	deployForce   bool
	deployErr     error
	shutdownCalls int
}

func (f *fakeHandler) Deploy(ctx context.Context, path string, force bool) error {
	f.deployPath = path
	f.deployForce = force
	return f.deployErr
}

func (f *fakeHandler) RequestShutdown() {
	f.shutdownCalls++
}

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	srv, err := Listen(socketPath, h)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, socketPath
}

func TestDialDeploy(t *testing.T) {
	h := &fakeHandler{}
	_, socketPath := startServer(t, h)

	resp, err := Dial(socketPath, Request{Op: OpDeploy, Path: "/tmp/new.yaml", Force: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected OK response, got %+v", resp)
	}
	if h.deployPath != "/tmp/new.yaml" || !h.deployForce {
		t.Fatalf("handler did not receive expected args: %+v", h)
	}
}

func TestDialDeployPropagatesError(t *testing.T) {
	h := &fakeHandler{deployErr: context.DeadlineExceeded}
	_, socketPath := startServer(t, h)

	resp, err := Dial(socketPath, Request{Op: OpDeploy, Path: "/tmp/new.yaml"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected failed response, got %+v", resp)
	}
	if resp.Error == "" {
		t.Fatalf("expected error message in response")
	}
}

func TestDialDown(t *testing.T) {
	h := &fakeHandler{}
	_, socketPath := startServer(t, h)

	resp, err := Dial(socketPath, Request{Op: OpDown})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if !resp.OK || h.shutdownCalls != 1 {
		t.Fatalf("expected shutdown to be requested once, got resp=%+v calls=%d", resp, h.shutdownCalls)
	}
}

func TestDialUnknownOp(t *testing.T) {
	h := &fakeHandler{}
	_, socketPath := startServer(t, h)

	resp, err := Dial(socketPath, Request{Op: "bogus"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected unknown op to fail, got %+v", resp)
	}
}
