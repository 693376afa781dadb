package vault

import (
	"reflect"
	"testing"

	"github.com/starford/odal/internal/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lines := []model.OutlineLine{
		{Content: "alpha", Indent: 0},
		{Content: "beta", Indent: 1},
		{Content: "gamma [[Roadmap]] #urgent", Indent: 2},
		{Content: "delta", Indent: 0},
	}
	got := Decode(Encode(lines))
	if !reflect.DeepEqual(got, lines) {
		t.Fatalf("round trip = %v, want %v", got, lines)
	}
}

func TestDecodeTolerance(t *testing.T) {
	data := []byte("- one\n\n\tloose line\n- two\n")
	got := Decode(data)
	want := []model.OutlineLine{
		{Content: "one", Indent: 0},
		{Content: "loose line", Indent: 1},
		{Content: "two", Indent: 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decode = %v, want %v", got, want)
	}
}

func TestPageFileRoundTrip(t *testing.T) {
	for _, name := range []string{"Home", "projects/odal", "Daily Notes"} {
		if got := PageName(PageFile(name)); got != name {
			t.Errorf("PageName(PageFile(%q)) = %q", name, got)
		}
	}
}
