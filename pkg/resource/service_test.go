package resource

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/metadata"
)

func TestDeriveStatusFields(t *testing.T) {
	svc := &Service{logger: slog.Default()}

	kindMeta := metadata.Kind{
		Kind:            "PostgresPort",
		CRDStatusFields: []string{"authToken", "username", "password"},
	}
	specMap := map[string]any{}

	err := svc.deriveStatusFields(uuid.New(), uuid.New(), "postgres", kindMeta, specMap)
	if err != nil {
		t.Fatalf("deriveStatusFields() error = %v", err)
	}

	for _, field := range []string{"authToken", "username", "password"} {
		v, ok := specMap[field].(string)
		if !ok || v == "" {
			t.Errorf("expected non-empty string for %s, got %v", field, specMap[field])
		}
	}

	if specMap["authToken"] == specMap["username"] {
		t.Error("authToken and username should be derived with independent salts")
	}
}

func TestDeriveStatusFields_IgnoresUnrecognisedFields(t *testing.T) {
	svc := &Service{logger: slog.Default()}

	kindMeta := metadata.Kind{CRDStatusFields: []string{"somethingElse"}}
	specMap := map[string]any{}

	if err := svc.deriveStatusFields(uuid.New(), uuid.New(), "postgres", kindMeta, specMap); err != nil {
		t.Fatalf("deriveStatusFields() error = %v", err)
	}
	if len(specMap) != 0 {
		t.Errorf("expected no fields injected, got %v", specMap)
	}
}
