package device

import (
	"errors"
	"testing"
)

type fakeBackend struct{ name string }

func (b fakeBackend) Name() string { return b.name }

func (b fakeBackend) CreateInstance(*InstanceDescriptor) (Instance, error) {
	return nil, errors.New("fake: no instance")
}

func withRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[string]Factory)
	registryMu.Unlock()

	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	withRegistry(t)

	Register("fake", func() Backend { return fakeBackend{"fake"} })

	if !IsRegistered("fake") {
		t.Fatal("IsRegistered(fake) = false after Register")
	}
	b, err := Get("fake")
	if err != nil {
		t.Fatalf("Get(fake) error = %v", err)
	}
	if b.Name() != "fake" {
		t.Errorf("Name() = %q, want %q", b.Name(), "fake")
	}

	Unregister("fake")
	if IsRegistered("fake") {
		t.Error("IsRegistered(fake) = true after Unregister")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	withRegistry(t)

	_, err := Get("missing")
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Get(missing) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryNilFactory(t *testing.T) {
	withRegistry(t)

	Register(BackendVulkan, func() Backend { return nil })

	if _, err := Get(BackendVulkan); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Get with nil factory error = %v, want ErrBackendNotAvailable", err)
	}
	if _, err := Default(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Default() error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryDefaultPriority(t *testing.T) {
	withRegistry(t)

	Register(BackendNoop, func() Backend { return fakeBackend{BackendNoop} })
	if _, err := Default(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Fatalf("Default() with only noop error = %v, want ErrBackendNotAvailable", err)
	}

	Register(BackendSoftware, func() Backend { return fakeBackend{BackendSoftware} })
	b, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if b.Name() != BackendSoftware {
		t.Errorf("Default() = %q, want %q", b.Name(), BackendSoftware)
	}

	Register(BackendVulkan, func() Backend { return fakeBackend{BackendVulkan} })
	b, err = Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if b.Name() != BackendVulkan {
		t.Errorf("Default() = %q, want %q", b.Name(), BackendVulkan)
	}

	cands := Candidates()
	if len(cands) != 2 || cands[0].Name() != BackendVulkan || cands[1].Name() != BackendSoftware {
		t.Errorf("Candidates() = %v, want [vulkan software]", cands)
	}
}

func TestRegistrySelect(t *testing.T) {
	withRegistry(t)

	Register(BackendSoftware, func() Backend { return fakeBackend{BackendSoftware} })
	Register(BackendNoop, func() Backend { return fakeBackend{BackendNoop} })

	b, err := Select("")
	if err != nil || b.Name() != BackendSoftware {
		t.Errorf("Select(\"\") = %v, %v; want software", b, err)
	}
	b, err = Select(BackendNoop)
	if err != nil || b.Name() != BackendNoop {
		t.Errorf("Select(noop) = %v, %v; want noop", b, err)
	}
}

func TestAvailableSorted(t *testing.T) {
	withRegistry(t)

	Register("b", func() Backend { return fakeBackend{"b"} })
	Register("a", func() Backend { return fakeBackend{"a"} })

	got := Available()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Available() = %v, want [a b]", got)
	}
}
