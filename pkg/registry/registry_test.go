package registry

import (
	"testing"

	"github.com/forgeops/forge/pkg/types"
)

func TestDefaultRegistryResolvesBuiltins(t *testing.T) {
	r := Default()

	mod, desc, err := r.Get("apt")
	if err != nil {
		t.Fatalf("Get(apt): %v", err)
	}
	if mod.Name() != "apt" {
		t.Errorf("expected module name apt, got %s", mod.Name())
	}
	if desc.Hint.Mode != types.HostExclusive {
		t.Errorf("expected apt to be HostExclusive, got %v", desc.Hint.Mode)
	}
}

func TestUnknownModuleError(t *testing.T) {
	r := Default()
	_, _, err := r.Get("does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unknown module")
	}
	var unknown *types.UnknownModuleError
	if !errorsAs(err, &unknown) {
		t.Fatalf("expected *types.UnknownModuleError, got %T: %v", err, err)
	}
}

func errorsAs(err error, target **types.UnknownModuleError) bool {
	if e, ok := err.(*types.UnknownModuleError); ok {
		*target = e
		return true
	}
	return false
}

func TestPingIsFullyParallel(t *testing.T) {
	r := Default()
	desc, err := r.Descriptor("ping")
	if err != nil {
		t.Fatalf("Descriptor(ping): %v", err)
	}
	if desc.Hint.Mode != types.FullyParallel {
		t.Errorf("expected ping to be FullyParallel, got %v", desc.Hint.Mode)
	}
	if desc.Classification != types.LocalLogic {
		t.Errorf("expected ping to be LocalLogic, got %v", desc.Classification)
	}
}
