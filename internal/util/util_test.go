package util

import (
	"bytes"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}

		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := DecryptAESWithAAD(cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("ExplicitNonceLayout", func(t *testing.T) {
		nonce, _ := RandomBytes(GCMNonceSize)
		sealed, err := SealAESWithNonce(plainText, key, nonce, aad)
		if err != nil {
			t.Fatalf("SealAESWithNonce failed: %v", err)
		}
		if len(sealed) != len(plainText)+GCMTagSize {
			t.Errorf("expected %d sealed bytes, got %d", len(plainText)+GCMTagSize, len(sealed))
		}
		opened, err := OpenAESWithNonce(sealed, key, nonce, aad)
		if err != nil {
			t.Fatalf("OpenAESWithNonce failed: %v", err)
		}
		if !bytes.Equal(plainText, opened) {
			t.Errorf("expected %s, got %s", plainText, opened)
		}
	})

	t.Run("RejectBadNonceSize", func(t *testing.T) {
		_, err := SealAESWithNonce(plainText, key, []byte("short"), aad)
		if err == nil {
			t.Error("expected error with wrong nonce size, got nil")
		}
	})
}

func TestArgon2id(t *testing.T) {
	params, err := Argon2idProfile(KDFProfileInteractive)
	if err != nil {
		t.Fatalf("Argon2idProfile failed: %v", err)
	}
	salt := []byte("random salt")

	key, err := DeriveArgon2idKey([]byte("correct horse battery staple"), salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	again, _ := DeriveArgon2idKey([]byte("correct horse battery staple"), salt, params)
	if !bytes.Equal(key, again) {
		t.Error("DeriveArgon2idKey should be deterministic")
	}

	other, _ := DeriveArgon2idKey([]byte("wrong passphrase"), salt, params)
	if bytes.Equal(key, other) {
		t.Error("different passphrases should derive different keys")
	}
}

func TestArgon2idProfile_UnknownReturnsError(t *testing.T) {
	_, err := Argon2idProfile("nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestValidateArgon2idParams(t *testing.T) {
	for _, name := range []string{KDFProfileInteractive, KDFProfileModerate, KDFProfileSensitive} {
		p, _ := Argon2idProfile(name)
		if err := ValidateArgon2idParams(p); err != nil {
			t.Errorf("profile %q failed validation: %v", name, err)
		}
	}

	p := DefaultArgon2idParams()
	p.MemoryKiB = 1024
	if err := ValidateArgon2idParams(p); err == nil {
		t.Error("expected error for MemoryKiB=1024")
	}

	p = DefaultArgon2idParams()
	p.KeyLen = 16
	if err := ValidateArgon2idParams(p); err == nil {
		t.Error("expected error for KeyLen != 32")
	}
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")

	key1, err := HKDF(seed, salt, "info")
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("expected key length 32, got %d", len(key1))
	}

	key2, _ := HKDF(seed, salt, "info")
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, "different info")
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", copied)
	}
}

func TestEncoding(t *testing.T) {
	if got := HexEncode([]byte{0xde, 0xad}); got != "dead" {
		t.Errorf("expected dead, got %s", got)
	}

	normalized := Normalize("café")
	if normalized != "café" {
		t.Errorf("Normalize failed, got %q", normalized)
	}

	if got := LanguageTag("en_US"); got != "en-US" {
		t.Errorf("expected en-US, got %s", got)
	}
	if got := LanguageTag("pt_BR"); got != "pt-BR" {
		t.Errorf("expected pt-BR, got %s", got)
	}
}

func TestRandomBytes(t *testing.T) {
	b1, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b2, _ := RandomBytes(32)
	if len(b1) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(b1))
	}
	if bytes.Equal(b1, b2) {
		t.Error("RandomBytes should produce different outputs")
	}
}
