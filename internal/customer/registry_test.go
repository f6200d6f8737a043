package customer

import (
	"errors"
	"sync"
	"testing"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

func TestGetOrCreateFirstContact(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	c, created := r.GetOrCreate("+15551234567")
	if !created {
		t.Fatal("expected creation on first contact")
	}
	if c.ID == "" || c.PhoneNumber != "+15551234567" {
		t.Errorf("bad customer: %+v", c)
	}

	again, created := r.GetOrCreate("+15551234567")
	if created {
		t.Fatal("expected existing customer on second contact")
	}
	if again.ID != c.ID {
		t.Errorf("expected same customer id, got %s vs %s", again.ID, c.ID)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 customer, got %d", r.Count())
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _ := r.GetOrCreate("+15550000000")
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatal("concurrent GetOrCreate produced different customers")
		}
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 customer, got %d", r.Count())
	}
}

func TestProfileAndMetadata(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c, _ := r.GetOrCreate("+15551234567")

	if err := r.UpdateProfile(c.ID, "Ada", "ada@example.com"); err != nil {
		t.Fatal(err)
	}
	// empty values do not clear existing fields
	if err := r.UpdateProfile(c.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMetadata(c.ID, "tier", "gold"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMetadata(c.ID, "tier", "platinum"); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Get(c.ID)
	if !ok {
		t.Fatal("customer vanished")
	}
	if got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Errorf("profile not updated: %+v", got)
	}
	if got.Metadata["tier"] != "platinum" {
		t.Errorf("expected metadata overwrite, got %q", got.Metadata["tier"])
	}
}

func TestRecordCall(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c, _ := r.GetOrCreate("+15551234567")

	for i := 0; i < 3; i++ {
		if err := r.RecordCall(c.ID); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := r.Get(c.ID)
	if got.TotalCalls != 3 {
		t.Errorf("expected 3 calls, got %d", got.TotalCalls)
	}
	if got.LastCallAt == nil {
		t.Error("expected last call timestamp")
	}
}

func TestUnknownCustomer(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	if err := r.RecordCall("nope"); !errors.Is(err, ErrCustomerNotFound) {
		t.Errorf("expected ErrCustomerNotFound, got %v", err)
	}
	if err := r.SetMetadata("nope", "k", "v"); !errors.Is(err, ErrCustomerNotFound) {
		t.Errorf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestResumeSkipsExisting(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c, _ := r.GetOrCreate("+15551111111")

	loaded := r.Resume([]types.Customer{
		{ID: "other-id", PhoneNumber: "+15551111111"},
		{ID: "c2", PhoneNumber: "+15552222222"},
	})
	if loaded != 1 {
		t.Fatalf("expected 1 loaded, got %d", loaded)
	}

	got, _ := r.GetByPhone("+15551111111")
	if got.ID != c.ID {
		t.Error("resume overwrote live customer")
	}
	if _, ok := r.GetByPhone("+15552222222"); !ok {
		t.Error("resumed customer missing")
	}
}
