package config

import "testing"

// Node selector grammar from spec.md §80: "+" AND, "," OR, "!" NOT, "*"
// glob, "key=value" labels, "label:" presence tests, fnmatch fallback.
func TestSelectorMatches(t *testing.T) {
	nodes := []NodeInfo{
		{Name: "n1", Labels: map[string]string{"role": "db", "dc": "east"}},
		{Name: "n2", Labels: map[string]string{"role": "web", "dc": "east"}},
		{Name: "n3", Labels: map[string]string{"role": "web", "dc": "west"}},
	}

	cases := []struct {
		expr string
		want []string
	}{
		{"", []string{"n1", "n2", "n3"}},
		{"n1", []string{"n1"}},
		{"n*", []string{"n1", "n2", "n3"}},
		{"!n1", []string{"n2", "n3"}},
		{"role=web", []string{"n2", "n3"}},
		{"role=web+dc=east", []string{"n2"}},
		{"role=db,role=web", []string{"n1", "n2", "n3"}},
		{"dc:", []string{"n1", "n2", "n3"}},
		{"role=web+!n3", []string{"n2"}},
	}

	for _, tc := range cases {
		sel := ParseSelector(tc.expr)
		var got []string
		for _, n := range nodes {
			if sel.Matches(n) {
				got = append(got, n.Name)
			}
		}
		if len(got) != len(tc.want) {
			t.Errorf("expr %q: got %v, want %v", tc.expr, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("expr %q: got %v, want %v", tc.expr, got, tc.want)
				break
			}
		}
	}
}

func TestConvertNodesSelectorParsesGrammar(t *testing.T) {
	meta := KeywordMeta{Section: "DEFAULT", Keyword: "nodes", Converter: ConvNodesSelector}
	v, err := meta.Convert("role=web+!n3")
	if err != nil {
		t.Fatal(err)
	}
	sel, ok := v.(Selector)
	if !ok {
		t.Fatalf("expected Selector, got %T", v)
	}
	if !sel.Matches(NodeInfo{Name: "n2", Labels: map[string]string{"role": "web"}}) {
		t.Fatal("expected n2 to match")
	}
	if sel.Matches(NodeInfo{Name: "n3", Labels: map[string]string{"role": "web"}}) {
		t.Fatal("expected n3 to be excluded by !n3")
	}
}
