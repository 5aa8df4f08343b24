package rsyncd

import "testing"

func TestValidateModuleRejectsEmptyFields(t *testing.T) {
	if _, err := NewServer([]Module{{Path: "/tmp"}}); err == nil {
		t.Error("module with no name should be rejected")
	}
	if _, err := NewServer([]Module{{Name: "x"}}); err == nil {
		t.Error("module with no path should be rejected")
	}
	if _, err := NewServer([]Module{{Name: "x", Path: "/tmp"}}); err != nil {
		t.Errorf("valid module rejected: %v", err)
	}
}

func TestGetModuleLooksUpByName(t *testing.T) {
	srv, err := NewServer([]Module{{Name: "mod", Path: "/tmp", Writable: true}})
	if err != nil {
		t.Fatal(err)
	}
	mod, err := srv.getModule("mod")
	if err != nil {
		t.Fatal(err)
	}
	if mod.Path != "/tmp" {
		t.Errorf("getModule returned %+v", mod)
	}
	if _, err := srv.getModule("nonexistent"); err == nil {
		t.Error("getModule should fail for an unknown module name")
	}
}
