package device

import "testing"

func TestResolveCPUAlwaysSucceeds(t *testing.T) {
	dev, err := Resolve("cpu")
	if err != nil {
		t.Fatalf("Resolve(cpu) failed: %v", err)
	}
	if dev.Kind != "cpu" {
		t.Errorf("kind = %q, want cpu", dev.Kind)
	}
	if dev.Threads <= 0 {
		t.Errorf("threads = %d, want positive", dev.Threads)
	}
	if dev.Name == "" {
		t.Error("device name is empty")
	}
}

func TestResolveRejectsUnknownSelector(t *testing.T) {
	if _, err := Resolve("tpu"); err == nil {
		t.Fatal("accepted an unknown selector")
	}
}
