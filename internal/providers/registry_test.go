package providers

import (
	"errors"
	"sync"
	"testing"
)

func testProvider(id string, providerType ProviderType, capacity int) *ProviderAvailability {
	return &ProviderAvailability{
		ProviderID:   id,
		ProviderType: providerType,
		Available:    true,
		MaxCapacity:  capacity,
		Specialties:  []string{"logistics"},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testProvider("partner-sn", TypeCompany, 10)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	info, err := r.GetAvailability("partner-sn")
	if err != nil {
		t.Fatalf("GetAvailability failed: %v", err)
	}
	if info.ProviderType != TypeCompany || !info.Available {
		t.Errorf("unexpected provider state: %+v", info)
	}

	// The returned struct is a copy.
	info.Specialties[0] = "mutated"
	again, _ := r.GetAvailability("partner-sn")
	if again.Specialties[0] != "logistics" {
		t.Error("GetAvailability leaked a mutable reference")
	}

	if _, err := r.GetAvailability("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestRegistryRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("nil provider: expected ErrInvalidProvider, got %v", err)
	}
	if err := r.Register(&ProviderAvailability{}); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("empty ID: expected ErrInvalidProvider, got %v", err)
	}
	if err := r.Register(&ProviderAvailability{ProviderID: "x", MaxCapacity: -1}); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("negative capacity: expected ErrInvalidProvider, got %v", err)
	}
}

func TestRegistryReRegisterPreservesLoad(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testProvider("p", TypeCompany, 10)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.RecordLoadDelta("p", 1); err != nil {
			t.Fatalf("RecordLoadDelta failed: %v", err)
		}
	}

	// A metadata refresh must not reset the counter.
	refreshed := testProvider("p", TypeCompany, 20)
	refreshed.CurrentLoad = 0
	if err := r.Register(refreshed); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}

	load, err := r.CurrentLoad("p")
	if err != nil {
		t.Fatalf("CurrentLoad failed: %v", err)
	}
	if load != 3 {
		t.Errorf("expected load 3 after refresh, got %d", load)
	}
}

func TestRecordLoadDeltaClamping(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testProvider("p", TypeCompany, 2)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Decrement below zero clamps to zero.
	if err := r.RecordLoadDelta("p", -5); err != nil {
		t.Fatalf("RecordLoadDelta failed: %v", err)
	}
	if load, _ := r.CurrentLoad("p"); load != 0 {
		t.Errorf("expected load clamped to 0, got %d", load)
	}

	// Increment beyond capacity clamps to capacity.
	if err := r.RecordLoadDelta("p", 10); err != nil {
		t.Fatalf("RecordLoadDelta failed: %v", err)
	}
	if load, _ := r.CurrentLoad("p"); load != 2 {
		t.Errorf("expected load clamped to capacity 2, got %d", load)
	}

	atCap, err := r.AtCapacity("p")
	if err != nil || !atCap {
		t.Errorf("expected provider at capacity, got %v (err %v)", atCap, err)
	}

	if err := r.RecordLoadDelta("missing", 1); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestRecordLoadDeltaUnlimitedCapacity(t *testing.T) {
	r := NewRegistry()
	// MaxCapacity 0 means no upper clamp.
	if err := r.Register(testProvider("p", TypeCompany, 0)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.RecordLoadDelta("p", 100); err != nil {
		t.Fatalf("RecordLoadDelta failed: %v", err)
	}
	if load, _ := r.CurrentLoad("p"); load != 100 {
		t.Errorf("expected load 100, got %d", load)
	}
	if atCap, _ := r.AtCapacity("p"); atCap {
		t.Error("unlimited capacity provider must never be at capacity")
	}
}

func TestRecordLoadDeltaConcurrent(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testProvider("p", TypeCompany, 1000)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.RecordLoadDelta("p", 1)
		}()
		go func() {
			defer wg.Done()
			_ = r.RecordLoadDelta("p", 1)
		}()
	}
	wg.Wait()

	if load, _ := r.CurrentLoad("p"); load != 200 {
		t.Errorf("expected load 200 after concurrent increments, got %d", load)
	}

	for i := 0; i < 200; i++ {
		_ = r.RecordLoadDelta("p", -1)
	}
	if load, _ := r.CurrentLoad("p"); load != 0 {
		t.Errorf("expected load back to 0, got %d", load)
	}
}

func TestListAvailable(t *testing.T) {
	r := NewRegistry()
	providers := []*ProviderAvailability{
		testProvider("partner-sn", TypeCompany, 10),
		testProvider("partner-ci", TypeCompany, 10),
		testProvider("official-support", TypeOfficialSupport, 0),
	}
	offline := testProvider("partner-ml", TypeCompany, 10)
	offline.Available = false
	providers = append(providers, offline)

	for _, p := range providers {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	all := r.ListAvailable("")
	if len(all) != 3 {
		t.Fatalf("expected 3 available providers, got %d", len(all))
	}
	// Deterministic ID ordering.
	for i, want := range []string{"official-support", "partner-ci", "partner-sn"} {
		if all[i].ProviderID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, all[i].ProviderID)
		}
	}

	companies := r.ListAvailable(TypeCompany)
	if len(companies) != 2 {
		t.Errorf("expected 2 companies, got %d", len(companies))
	}
}

func TestSetAvailable(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testProvider("p", TypeCompany, 10)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.SetAvailable("p", false); err != nil {
		t.Fatalf("SetAvailable failed: %v", err)
	}
	if len(r.ListAvailable("")) != 0 {
		t.Error("provider still listed after going unavailable")
	}

	if err := r.SetAvailable("p", true); err != nil {
		t.Fatalf("SetAvailable failed: %v", err)
	}
	if len(r.ListAvailable("")) != 1 {
		t.Error("provider not listed after heartbeat")
	}

	if err := r.SetAvailable("missing", true); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}
