package security

import (
	"bytes"
	"testing"
)

func TestNewSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretsManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sm == nil {
				t.Error("NewSecretsManager() returned nil without error")
			}
		})
	}
}

func TestNewSecretsManagerFromPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "valid password", password: "my-secure-password", wantErr: false},
		{name: "empty password", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManagerFromPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretsManagerFromPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sm == nil {
				t.Error("NewSecretsManagerFromPassword() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	sm, err := NewSecretsManager(key)
	if err != nil {
		t.Fatalf("Failed to create SecretsManager: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple string", plaintext: []byte("hello world")},
		{name: "hmac secret", plaintext: []byte("whsec_abcdef0123456789")},
		{name: "binary data", plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{name: "large data", plaintext: bytes.Repeat([]byte("test"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := sm.EncryptSecret(tt.plaintext)
			if err != nil {
				t.Fatalf("EncryptSecret() error = %v", err)
			}

			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("Ciphertext should not equal plaintext")
			}

			decrypted, err := sm.DecryptSecret(ciphertext)
			if err != nil {
				t.Fatalf("DecryptSecret() error = %v", err)
			}

			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptSecret_Errors(t *testing.T) {
	key := make([]byte, 32)
	sm, _ := NewSecretsManager(key)

	tests := []struct {
		name      string
		plaintext []byte
		wantErr   bool
	}{
		{name: "empty data", plaintext: []byte{}, wantErr: true},
		{name: "nil data", plaintext: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.EncryptSecret(tt.plaintext)
			if (err != nil) != tt.wantErr {
				t.Errorf("EncryptSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecryptSecret_Errors(t *testing.T) {
	key := make([]byte, 32)
	sm, _ := NewSecretsManager(key)

	tests := []struct {
		name       string
		ciphertext []byte
		wantErr    bool
	}{
		{name: "empty data", ciphertext: []byte{}, wantErr: true},
		{name: "nil data", ciphertext: nil, wantErr: true},
		{name: "too short data", ciphertext: []byte{0x01, 0x02}, wantErr: true},
		{name: "corrupted data", ciphertext: bytes.Repeat([]byte("x"), 100), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.DecryptSecret(tt.ciphertext)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecryptSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))

	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	sm1, _ := NewSecretsManager(key1)
	sm2, _ := NewSecretsManager(key2)

	plaintext := []byte("secret data")

	ciphertext, err := sm1.EncryptSecret(plaintext)
	if err != nil {
		t.Fatalf("EncryptSecret() error = %v", err)
	}

	_, err = sm2.DecryptSecret(ciphertext)
	if err == nil {
		t.Error("DecryptSecret() should fail with wrong key")
	}
}

func TestEncryptDecryptHMACSecret(t *testing.T) {
	key := make([]byte, 32)
	sm, _ := NewSecretsManager(key)

	secret := []byte("whsec_endpoint_signing_secret")

	ciphertext, err := sm.EncryptHMACSecret(secret)
	if err != nil {
		t.Fatalf("EncryptHMACSecret() error = %v", err)
	}

	decrypted, err := sm.DecryptHMACSecret(ciphertext)
	if err != nil {
		t.Fatalf("DecryptHMACSecret() error = %v", err)
	}

	if !bytes.Equal(decrypted, secret) {
		t.Errorf("DecryptHMACSecret() = %v, want %v", decrypted, secret)
	}
}

func TestDeriveKeyFromDeploymentID(t *testing.T) {
	tests := []struct {
		name         string
		deploymentID string
	}{
		{name: "simple ID", deploymentID: "deployment-123"},
		{name: "UUID", deploymentID: "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := DeriveKeyFromDeploymentID(tt.deploymentID)

			if len(key) != 32 {
				t.Errorf("DeriveKeyFromDeploymentID() returned key of length %d, want 32", len(key))
			}

			key2 := DeriveKeyFromDeploymentID(tt.deploymentID)
			if !bytes.Equal(key, key2) {
				t.Error("DeriveKeyFromDeploymentID() should be deterministic")
			}

			differentKey := DeriveKeyFromDeploymentID(tt.deploymentID + "-different")
			if bytes.Equal(key, differentKey) {
				t.Error("Different deployment IDs should produce different keys")
			}
		})
	}
}
