package settings

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"slash only", "/", nil},
		{"single", "Foo", []string{"foo"}},
		{"nested", "/Foo/Bar/", []string{"foo", "bar"}},
		{"backslash", `foo\BAR`, []string{"foo", "bar"}},
		{"repeated separators", "foo//bar", []string{"foo", "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePath(tt.in).Segments()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParsePath(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestPathPrefix(t *testing.T) {
	tests := []struct {
		prefix, path string
		want         bool
	}{
		{"", "foo/bar", true},
		{"foo", "foo", true},
		{"foo", "foo/bar", true},
		{"FOO", "foo/bar", true},
		{"foo", "foobar", false},
		{"foo/bar", "foo", false},
		{"bar", "foo/bar", false},
	}

	for _, tt := range tests {
		got := ParsePath(tt.prefix).IsPrefixOf(ParsePath(tt.path))
		if got != tt.want {
			t.Errorf("%q.IsPrefixOf(%q) = %v, want %v", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestPathParentAndTrim(t *testing.T) {
	p := ParsePath("a/b/c")

	parent, ok := p.Parent()
	if !ok || parent.String() != "a/b" {
		t.Fatalf("Parent() = %q, %v; want a/b, true", parent, ok)
	}
	if _, ok := Root.Parent(); ok {
		t.Error("Root should have no parent")
	}
	if got := p.TrimPrefix(ParsePath("a")).String(); got != "b/c" {
		t.Errorf("TrimPrefix(a) = %q, want b/c", got)
	}
	if got := p.TrimPrefix(Root).String(); got != "a/b/c" {
		t.Errorf("TrimPrefix(root) = %q, want a/b/c", got)
	}
	if got := p.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestNodeLookupIgnoresCase(t *testing.T) {
	tree := NewObject("",
		NewObject("Database",
			NewValue("Host", "db1"),
			NewArray("Ports", NewValue("", "5432"), NewValue("", "5433")),
		),
	)

	if got := tree.Scope("database", "HOST").Value(); got != "db1" {
		t.Errorf("Scope(database, HOST) = %q, want db1", got)
	}
	if got := tree.ScopePath(ParsePath("database/ports/1")).Value(); got != "5433" {
		t.Errorf("ports[1] = %q, want 5433", got)
	}
	if got := tree.Scope("missing", "host"); got != nil {
		t.Errorf("Scope(missing) = %v, want nil", got)
	}
	if got := tree.Scope("database", "host", "deeper"); got != nil {
		t.Errorf("Scope below value = %v, want nil", got)
	}
}

func TestNewObjectLaterDuplicateWins(t *testing.T) {
	obj := NewObject("", NewValue("key", "first"), NewValue("KEY", "second"))
	if obj.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", obj.Len())
	}
	if got := obj.Child("key").Value(); got != "second" {
		t.Errorf("key = %q, want second", got)
	}
}

func TestMerge(t *testing.T) {
	remote := NewObject("",
		NewValue("a", "remote-a"),
		NewObject("nested", NewValue("x", "1"), NewValue("y", "2")),
		NewArray("list", NewValue("", "r1"), NewValue("", "r2")),
	)
	local := NewObject("",
		NewValue("b", "local-b"),
		NewObject("Nested", NewValue("y", "local-y")),
		NewArray("list", NewValue("", "l1")),
	)

	got := Merge(remote, local)
	want := map[string]any{
		"a":      "remote-a",
		"b":      "local-b",
		"Nested": map[string]any{"x": "1", "y": "local-y"},
		"list":   []any{"l1"},
	}
	if diff := cmp.Diff(want, got.Interface()); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeNilSides(t *testing.T) {
	tree := NewObject("", NewValue("a", "1"))
	if got := Merge(nil, tree); got != tree {
		t.Error("Merge(nil, t) should return t")
	}
	if got := Merge(tree, nil); got != tree {
		t.Error("Merge(t, nil) should return t")
	}
	if got := Merge(nil, nil); got != nil {
		t.Error("Merge(nil, nil) should be nil")
	}
}

func TestMergeKindMismatchOverrideWins(t *testing.T) {
	got := Merge(NewObject("k", NewValue("a", "1")), NewValue("k", "plain"))
	if got.Kind() != KindValue || got.Value() != "plain" {
		t.Errorf("Merge() = %v, want value node", got)
	}
}

func TestEqual(t *testing.T) {
	a := NewObject("", NewValue("Key", "v"), NewArray("arr", NewValue("", "1")))
	b := NewObject("", NewArray("ARR", NewValue("", "1")), NewValue("key", "v"))
	c := NewObject("", NewValue("key", "other"))

	if !Equal(a, b) {
		t.Error("Equal(a, b) = false, want true")
	}
	if Equal(a, c) {
		t.Error("Equal(a, c) = true, want false")
	}
	if Equal(a, nil) {
		t.Error("Equal(a, nil) = true, want false")
	}
}

func TestFromValue(t *testing.T) {
	in := map[string]any{
		"name":    "svc",
		"enabled": true,
		"ratio":   0.5,
		"tags":    []any{"a", "b"},
		"owner":   map[string]any{"team": "infra"},
		"skipped": nil,
	}

	got := FromValue("", in)
	want := map[string]any{
		"name":    "svc",
		"enabled": "true",
		"ratio":   "0.5",
		"tags":    []any{"a", "b"},
		"owner":   map[string]any{"team": "infra"},
	}
	if diff := cmp.Diff(want, got.Interface()); diff != "" {
		t.Errorf("FromValue() mismatch (-want +got):\n%s", diff)
	}
}
