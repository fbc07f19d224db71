package cryptoutil

import "testing"

func TestBech32mRoundTrip(t *testing.T) {
	data := []byte("super-secret-key-material")

	encoded, err := EncodeBech32m("dmtr_apikey", data)
	if err != nil {
		t.Fatalf("EncodeBech32m() error = %v", err)
	}

	hrp, decoded, err := DecodeBech32m(encoded)
	if err != nil {
		t.Fatalf("DecodeBech32m() error = %v", err)
	}
	if hrp != "dmtr_apikey" {
		t.Errorf("hrp = %q, want dmtr_apikey", hrp)
	}
	if string(decoded) != string(data) {
		t.Errorf("decoded = %q, want %q", decoded, data)
	}
}

func TestDecodeBech32m_Invalid(t *testing.T) {
	if _, _, err := DecodeBech32m("not-a-bech32-string"); err == nil {
		t.Error("expected error decoding invalid bech32m string")
	}
}

func TestHashVerifyWithPepper(t *testing.T) {
	pepper := []byte("fabric@txpipe")

	phc, err := HashWithPepper("k-clear-text-key", pepper)
	if err != nil {
		t.Fatalf("HashWithPepper() error = %v", err)
	}

	ok, err := VerifyWithPepper("k-clear-text-key", pepper, phc)
	if err != nil {
		t.Fatalf("VerifyWithPepper() error = %v", err)
	}
	if !ok {
		t.Error("expected verification to succeed with correct key/pepper")
	}

	ok, err = VerifyWithPepper("wrong-key", pepper, phc)
	if err != nil {
		t.Fatalf("VerifyWithPepper() error = %v", err)
	}
	if ok {
		t.Error("expected verification to fail with wrong clear key")
	}

	ok, err = VerifyWithPepper("k-clear-text-key", []byte("wrong-pepper"), phc)
	if err != nil {
		t.Fatalf("VerifyWithPepper() error = %v", err)
	}
	if ok {
		t.Error("expected verification to fail with wrong pepper")
	}
}

func TestRandomAlnumLower(t *testing.T) {
	s, err := RandomAlnumLower(6)
	if err != nil {
		t.Fatalf("RandomAlnumLower() error = %v", err)
	}
	if len(s) != 6 {
		t.Errorf("len = %d, want 6", len(s))
	}
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			t.Errorf("unexpected character %q in %q", r, s)
		}
	}
}

func TestRandomClearKey(t *testing.T) {
	k, err := RandomClearKey()
	if err != nil {
		t.Fatalf("RandomClearKey() error = %v", err)
	}
	if len(k) != 16 {
		t.Errorf("len = %d, want 16", len(k))
	}
}
