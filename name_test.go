package pulse

import (
	"reflect"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in   string
		want Name
	}{
		{"", nil},
		{"a", Name{"a"}},
		{"a.b.c", Name{"a", "b", "c"}},
		{"a..b", Name{"a", "b"}},
		{".a.", Name{"a"}},
		{"...", Name{}},
	}
	for _, tt := range tests {
		got := ParseName(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseName(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNameAppend_Associative(t *testing.T) {
	left := ParseName("a").Append("b").Append("c")
	right := ParseName("a").Append("b.c")
	flat := ParseName("a.b.c")

	if left.String() != flat.String() || right.String() != flat.String() {
		t.Errorf("composition not associative: %q vs %q vs %q",
			left.String(), right.String(), flat.String())
	}
}

func TestNameAppend_DoesNotMutateReceiver(t *testing.T) {
	base := ParseName("a.b")
	_ = base.Append("c")
	if base.String() != "a.b" {
		t.Errorf("receiver mutated: %q", base.String())
	}
}

func TestNameJoin(t *testing.T) {
	n := ParseName("a.b.c")
	if got := n.Join("_"); got != "a_b_c" {
		t.Errorf("Join = %q, want a_b_c", got)
	}
}

func TestMergeLabels(t *testing.T) {
	tests := []struct {
		name  string
		scope Labels
		call  Labels
		want  Labels
	}{
		{"both nil", nil, nil, nil},
		{"scope only", Labels{"a": "1"}, nil, Labels{"a": "1"}},
		{"call only", nil, Labels{"b": "2"}, Labels{"b": "2"}},
		{"disjoint", Labels{"a": "1"}, Labels{"b": "2"}, Labels{"a": "1", "b": "2"}},
		{"call dominates", Labels{"a": "1"}, Labels{"a": "2"}, Labels{"a": "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeLabels(tt.scope, tt.call)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("mergeLabels(%v, %v) = %v, want %v", tt.scope, tt.call, got, tt.want)
			}
		})
	}
}
