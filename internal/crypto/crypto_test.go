package crypto

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fleetup/fleetup/internal/database"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	setupTestDB(t)

	ciphertext, err := Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == "hunter2" {
		t.Fatal("ciphertext equals plaintext")
	}

	plain, err := Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "hunter2" {
		t.Errorf("round trip = %q", plain)
	}

	// The generated key must be persisted and reused.
	key, err := database.GetSetting("credential_key")
	if err != nil || key == "" {
		t.Fatalf("credential key not persisted: %q, %v", key, err)
	}
	ciphertext2, _ := Encrypt("other")
	if plain, _ := Decrypt(ciphertext2); plain != "other" {
		t.Error("second encryption used a different key")
	}
}

func TestDecryptEmptyAndInvalid(t *testing.T) {
	setupTestDB(t)

	if plain, err := Decrypt(""); err != nil || plain != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", plain, err)
	}
	if _, err := Decrypt("not-a-token"); err == nil {
		t.Error("expected error for garbage ciphertext")
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "****"},
		{"hunter2", "****ter2"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
