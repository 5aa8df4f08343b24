package rsyncdconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rsyncd.toml")
	if err := os.WriteFile(p, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFileParsesModules(t *testing.T) {
	p := writeConfig(t, `
[[module]]
name = "backups"
path = "/srv/backups"
writable = true

[[module]]
name = "pub"
path = "/srv/pub"
`)
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(cfg.Modules))
	}
	if cfg.Modules[0].Name != "backups" || cfg.Modules[0].Path != "/srv/backups" || !cfg.Modules[0].Writable {
		t.Errorf("modules[0] = %+v", cfg.Modules[0])
	}
	if cfg.Modules[1].Writable {
		t.Errorf("modules[1] should default Writable to false, got %+v", cfg.Modules[1])
	}
}

func TestLoadFileRejectsModuleWithoutPath(t *testing.T) {
	p := writeConfig(t, `
[[module]]
name = "bad"
`)
	if _, err := LoadFile(p); err == nil {
		t.Fatal("expected an error for a module with no path")
	}
}
