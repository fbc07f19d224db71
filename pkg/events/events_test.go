package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := ProjectCreated{
		ID:        uuid.New(),
		Namespace: "prj-abc123",
		Name:      "Acme",
		Owner:     uuid.New(),
		Status:    "Active",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}

	raw, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Decode(TypeProjectCreated, raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	pc, ok := got.(*ProjectCreated)
	if !ok {
		t.Fatalf("Decode() returned %T, want *ProjectCreated", got)
	}
	if pc.ID != want.ID || pc.Namespace != want.Namespace || pc.Name != want.Name {
		t.Errorf("round trip mismatch: got %+v, want %+v", pc, want)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Type("NotARealEvent"), []byte(`{}`))
	if err == nil {
		t.Fatal("Decode() with unknown type should return an error")
	}
	var utErr *UnknownTypeError
	if utErr, _ = err.(*UnknownTypeError); utErr == nil {
		t.Errorf("error = %T, want *UnknownTypeError", err)
	}
}

func TestDecode_LegacyProjectCreatedDefaults(t *testing.T) {
	raw := []byte(`{"id":"` + uuid.New().String() + `","namespace":"prj-legacy1","name":"Legacy","owner":"` + uuid.New().String() + `"}`)

	got, err := Decode(TypeProjectCreated, raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	pc := got.(*ProjectCreated)
	if pc.Status != "Active" {
		t.Errorf("Status = %q, want Active", pc.Status)
	}
	if pc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be defaulted, got zero value")
	}
	if pc.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be defaulted, got zero value")
	}
}
