package rsyncopts

import "testing"

func TestArchiveExpandsToIndividualFlags(t *testing.T) {
	pc, err := ParseArguments([]string{"-a", "src", "dest"})
	if err != nil {
		t.Fatal(err)
	}
	o := pc.Options
	for name, got := range map[string]bool{
		"Recurse":        o.Recurse(),
		"PreserveLinks":  o.PreserveLinks(),
		"PreservePerms":  o.PreservePerms(),
		"PreserveMTimes": o.PreserveMTimes(),
	} {
		if !got {
			t.Errorf("-a should set %s", name)
		}
	}
	if want := []string{"src", "dest"}; len(pc.RemainingArgs) != len(want) {
		t.Fatalf("RemainingArgs = %v, want %v", pc.RemainingArgs, want)
	}
	// uid/gid are never transmitted by this module (spec.md §4.4); -a is a
	// documented subset of rsync(1)'s own -rlptgo expansion.
	if o.PreserveUid() || o.PreserveGid() {
		t.Error("-a should not enable uid/gid preservation")
	}
}

func TestBundledShortFlags(t *testing.T) {
	pc, err := ParseArguments([]string{"-av", "src", "dest"})
	if err != nil {
		t.Fatal(err)
	}
	if !pc.Options.Verbose() {
		t.Error("-av should set verbose")
	}
	if !pc.Options.Recurse() {
		t.Error("-av should set recurse (from -a)")
	}
}

func TestServerAndSenderFlags(t *testing.T) {
	pc, err := ParseArguments([]string{"--server", "--sender", "-v", ".", "src"})
	if err != nil {
		t.Fatal(err)
	}
	if !pc.Options.Server() {
		t.Error("--server should set Server()")
	}
	if !pc.Options.Sender() {
		t.Error("--sender should set Sender()")
	}
}

func TestDefaultsAreOff(t *testing.T) {
	o := NewOptions()
	if o.DryRun() || o.Verbose() || o.Recurse() || o.DeleteMode() || o.Sender() || o.Server() {
		t.Fatal("NewOptions should have every flag off")
	}
	if o.RsyncPath() != "rsync" {
		t.Errorf("RsyncPath() = %q, want %q", o.RsyncPath(), "rsync")
	}
}

func TestConfigPathFlag(t *testing.T) {
	pc, err := ParseArguments([]string{"--config", "/etc/rsyncd.toml", "--server", ".", "mod"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := pc.Options.ConfigPath(), "/etc/rsyncd.toml"; got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestVersionFlag(t *testing.T) {
	pc, err := ParseArguments([]string{"--version"})
	if err != nil {
		t.Fatal(err)
	}
	if !pc.Options.Version() {
		t.Error("--version should set Version()")
	}

	pc, err = ParseArguments([]string{"-V"})
	if err != nil {
		t.Fatal(err)
	}
	if !pc.Options.Version() {
		t.Error("-V should set Version()")
	}

	if NewOptions().Version() {
		t.Error("Version() should default to false")
	}
}

func TestRsyncPathOverride(t *testing.T) {
	pc, err := ParseArguments([]string{"--rsync-path", "/opt/bin/rsync", "src", "dest"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := pc.Options.RsyncPath(), "/opt/bin/rsync"; got != want {
		t.Errorf("RsyncPath() = %q, want %q", got, want)
	}
}
