package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "WAREHOUSE_STORE_ID", "ACCESS_TOKEN_TTL_MINUTES",
		"LOG_LEVEL", "BARCODE_PROVIDER", "BARCODE_MAX_RETRIES", "STORAGE_PROVIDER",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Errorf("unexpected address %s", cfg.Address())
	}
	if cfg.WarehouseStoreID != 4 {
		t.Errorf("expected default warehouse store 4, got %d", cfg.WarehouseStoreID)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.BarcodeProvider != "api" || cfg.BarcodeMaxRetries != 3 {
		t.Errorf("unexpected barcode defaults %s/%d", cfg.BarcodeProvider, cfg.BarcodeMaxRetries)
	}
	if cfg.StorageProvider != "drive" {
		t.Errorf("expected default storage provider drive, got %s", cfg.StorageProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WAREHOUSE_STORE_ID", "7")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("AUTH_SECRET", "  secret-with-padding  ")
	t.Setenv("BARCODE_MAX_RETRIES", "not-a-number")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.WarehouseStoreID != 7 {
		t.Errorf("expected warehouse store 7, got %d", cfg.WarehouseStoreID)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Errorf("expected token ttl 60, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.AuthSecret != "secret-with-padding" {
		t.Errorf("expected trimmed secret, got %q", cfg.AuthSecret)
	}
	if cfg.BarcodeMaxRetries != 3 {
		t.Errorf("expected bad retry count to fall back to 3, got %d", cfg.BarcodeMaxRetries)
	}
}
