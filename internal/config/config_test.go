package config

import (
	"os"
	"testing"
)

func TestLoadAndValidate(t *testing.T) {
	yaml := `
tiers:
  - alias: 0
    dirs:
      - path: "/tmp/blockstored/test/ram"
        capacity_bytes: "128MB"
  - alias: 1
    dirs:
      - path: "/tmp/blockstored/test/ssd"
        capacity_bytes: "1GB"

notify:
  nats:
    enabled: false
`
	tmpFile, err := os.CreateTemp("", "blockstored-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.WriteString(yaml)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(cfg.Tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(cfg.Tiers))
	}
	if cfg.Tiers[0].Alias != 0 {
		t.Errorf("unexpected tier 0 alias: %d", cfg.Tiers[0].Alias)
	}
	if int64(cfg.Tiers[0].Dirs[0].CapacityBytes) != 128*1024*1024 {
		t.Errorf("unexpected capacity_bytes: %d", cfg.Tiers[0].Dirs[0].CapacityBytes)
	}
}

func TestValidateNoTiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for no tiers")
	}
}

func TestValidateDuplicateAlias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = []TierConfig{
		{Alias: 0, Dirs: []DirConfig{{Path: "/a", CapacityBytes: 1024}}},
		{Alias: 0, Dirs: []DirConfig{{Path: "/b", CapacityBytes: 1024}}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate alias")
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = []TierConfig{
		{Alias: 0, Dirs: []DirConfig{{Path: "/a", CapacityBytes: 1024, Backend: "ftp"}}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestParseByteSizes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1KB", 1024},
		{"256MB", 256 * 1024 * 1024},
		{"10GB", 10 * 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
		{"100B", 100},
	}
	for _, tt := range tests {
		result, err := parseByteSize(tt.input)
		if err != nil {
			t.Errorf("parseByteSize(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("parseByteSize(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}
