package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"

database:
  host: "testdb"
  port: 5432
  user: "testuser"
  password: "testpass"
  dbname: "testdb"

storage:
  driver: "s3"
  bucketName: "renditions"

transcoder:
  strategy: "parallel"
  maxConcurrent: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}

	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}

	if cfg.Storage.Driver != "s3" || cfg.Storage.BucketName != "renditions" {
		t.Errorf("Unexpected storage config: %+v", cfg.Storage)
	}

	if cfg.Transcoder.Strategy != "parallel" || cfg.Transcoder.MaxConcurrent != 3 {
		t.Errorf("Unexpected transcoder config: %+v", cfg.Transcoder)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Ingest.MaxExtensionLength != 5 {
		t.Errorf("Expected max extension length 5, got %d", cfg.Ingest.MaxExtensionLength)
	}

	if len(cfg.Ingest.AllowedContentTypes) == 0 {
		t.Error("Expected default allowed content types")
	}

	if len(cfg.Ingest.DefaultQualities) != 4 {
		t.Errorf("Expected 4 default qualities, got %v", cfg.Ingest.DefaultQualities)
	}

	if cfg.Stream.PresignTTL != 5*time.Minute {
		t.Errorf("Expected presign TTL 5m, got %v", cfg.Stream.PresignTTL)
	}

	if cfg.Transcoder.JobTimeout != 2*time.Hour {
		t.Errorf("Expected job timeout 2h, got %v", cfg.Transcoder.JobTimeout)
	}

	if cfg.Server.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("Expected read header timeout 10s, got %v", cfg.Server.ReadHeaderTimeout)
	}

	// Uploads may run for minutes, so body and response deadlines stay off
	if cfg.Server.ReadTimeout != 0 || cfg.Server.WriteTimeout != 0 {
		t.Errorf("Expected no read/write timeout, got %v/%v", cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}

	if cfg.Transcoder.Strategy != "sequential" {
		t.Errorf("Expected sequential strategy, got %s", cfg.Transcoder.Strategy)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  driver: \"ftp\"\n"))
	if err == nil {
		t.Error("Expected error for unsupported storage driver")
	}
}

func TestLoadRejectsAuthWithoutSecret(t *testing.T) {
	_, err := Load(writeConfig(t, "auth:\n  enabled: true\n"))
	if err == nil {
		t.Error("Expected error when auth is enabled without a secret")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
