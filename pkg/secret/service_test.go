package secret

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/cryptoutil"
)

func TestVerifySecret_MalformedKey(t *testing.T) {
	svc := &Service{}

	if _, err := svc.VerifySecret(context.Background(), uuid.New(), "not-a-bech32-string"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestVerifySecret_WrongHRP(t *testing.T) {
	svc := &Service{}

	// bech32m-encoded with an unrelated HRP; VerifySecret must reject
	// before ever touching the store.
	wrong, err := cryptoutil.EncodeBech32m("dmtr_other", []byte("abc"))
	if err != nil {
		t.Fatalf("encoding test key: %v", err)
	}

	if _, err := svc.VerifySecret(context.Background(), uuid.New(), wrong); err == nil {
		t.Error("expected error for wrong HRP")
	}
}
