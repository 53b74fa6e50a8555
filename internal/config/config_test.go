package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry([]KeywordMeta{
		{Section: "ip", Keyword: "ipname", Converter: ConvString},
		{Section: "DEFAULT", Keyword: "nodes", Converter: ConvList},
		{Section: "DEFAULT", Keyword: "required_thing", Required: true},
	})
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.conf")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// Scenario 3 from spec.md §8: per-node scoped ipname resolution.
func TestScopedGet(t *testing.T) {
	path := writeTemp(t, "[DEFAULT]\nrequired_thing = x\n\n[ip#0]\nipname@n1 = 10.0.0.1\nipname@n2 = 10.0.0.2\nipname = 10.0.0.9\n")
	reg := testRegistry()
	cfg, err := Load(path, reg, Builtins{})
	if err != nil {
		t.Fatal(err)
	}

	v, err := cfg.Get("ip#0", "ipname", ResolveContext{NodeName: "n1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "10.0.0.1" {
		t.Errorf("n1: want 10.0.0.1, got %v", v)
	}

	v, err = cfg.Get("ip#0", "ipname", ResolveContext{NodeName: "n3"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "10.0.0.9" {
		t.Errorf("n3: want 10.0.0.9 (fallback), got %v", v)
	}
}

// Scenario 4 from spec.md §8: {clusternodes} reference expansion.
func TestReferenceExpansion(t *testing.T) {
	path := writeTemp(t, "[DEFAULT]\nrequired_thing = x\nnodes = {clusternodes}\n")
	reg := testRegistry()
	cfg, err := Load(path, reg, Builtins{ClusterNodes: []string{"n1", "n2"}})
	if err != nil {
		t.Fatal(err)
	}
	v, err := cfg.Get("DEFAULT", "nodes", ResolveContext{NodeName: "n1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	list, ok := v.([]string)
	if !ok || len(list) != 2 || list[0] != "n1" || list[1] != "n2" {
		t.Errorf("want [n1 n2], got %v", v)
	}
}

func TestReferenceCycleFails(t *testing.T) {
	path := writeTemp(t, "[DEFAULT]\nrequired_thing = x\na = {DEFAULT.b}\nb = {DEFAULT.a}\n")
	reg := NewRegistry([]KeywordMeta{
		{Section: "DEFAULT", Keyword: "required_thing", Required: true},
		{Section: "DEFAULT", Keyword: "a"},
		{Section: "DEFAULT", Keyword: "b"},
	})
	cfg, err := Load(path, reg, Builtins{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Get("DEFAULT", "a", ResolveContext{}, true); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestMissingRequiredFailsLoad(t *testing.T) {
	path := writeTemp(t, "[DEFAULT]\nnodes = n1\n")
	reg := testRegistry()
	if _, err := Load(path, reg, Builtins{}); err == nil {
		t.Fatal("expected MissingKeyError, got nil")
	}
}

func TestSetMultiPrunesUnknownAndPersists(t *testing.T) {
	path := writeTemp(t, "[DEFAULT]\nrequired_thing = x\n")
	reg := testRegistry()
	cfg, err := Load(path, reg, Builtins{})
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.SetMulti([]Change{
		{Section: "ip#0", Key: "ipname", Value: "10.0.0.1"},
		{Section: "ip#0", Key: "bogus_unknown_kw", Value: "zzz"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Unknown keyword must not survive a reload from disk.
	cfg2, err := Load(path, reg, Builtins{})
	if err != nil {
		t.Fatal(err)
	}
	body := cfg2.Snapshot().Document().Body("ip#0")
	if _, ok := body["bogus_unknown_kw"]; ok {
		t.Error("unknown keyword should have been pruned before persisting")
	}
	if body["ipname"] != "10.0.0.1" {
		t.Errorf("ipname not persisted: %v", body)
	}
}

func TestSelector(t *testing.T) {
	sel := ParseSelector("n*+!n2,role=drp")
	if !sel.Matches(NodeInfo{Name: "n1"}) {
		t.Error("n1 should match n*+!n2")
	}
	if sel.Matches(NodeInfo{Name: "n2"}) {
		t.Error("n2 should be excluded by !n2")
	}
	if !sel.Matches(NodeInfo{Name: "other", Labels: map[string]string{"role": "drp"}}) {
		t.Error("role=drp branch should match on label equality")
	}

	presence := ParseSelector("role:")
	if !presence.Matches(NodeInfo{Name: "x", Labels: map[string]string{"role": "anything"}}) {
		t.Error("role: should match on label presence regardless of value")
	}
	if presence.Matches(NodeInfo{Name: "x", Labels: map[string]string{}}) {
		t.Error("role: should not match when label absent")
	}
}
