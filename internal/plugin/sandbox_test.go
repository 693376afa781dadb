package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/model"
)

// fakeEngine implements Editor and Querier in memory.
type fakeEngine struct {
	inserted []string
	updated  []uuid.UUID
	hits     []*model.Block
	delay    time.Duration
}

func (f *fakeEngine) InsertBlock(page string, parent, left uuid.UUID, content string, props map[string]string) (uuid.UUID, error) {
	f.inserted = append(f.inserted, content)
	return uuid.New(), nil
}

func (f *fakeEngine) UpdateBlock(id uuid.UUID, content *string, props map[string]string) error {
	f.updated = append(f.updated, id)
	return nil
}

func (f *fakeEngine) Search(ctx context.Context, term string) ([]*model.Block, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.hits, nil
}

func (f *fakeEngine) FindByProperty(ctx context.Context, key, value string) ([]*model.Block, error) {
	return f.hits, nil
}

func (f *fakeEngine) Backlinks(page string) []*model.Block { return f.hits }

func newHost(t *testing.T, eng *fakeEngine, d Descriptor) *Host {
	t.Helper()
	h := NewHost(eng, eng)
	if err := h.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return h
}

func TestCallRequiresRegistration(t *testing.T) {
	h := NewHost(&fakeEngine{}, &fakeEngine{})
	_, err := h.Call(context.Background(), "ghost", CapDBQuery, nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPermissionDeniedNoSideEffect(t *testing.T) {
	eng := &fakeEngine{}
	h := newHost(t, eng, Descriptor{
		ID:          "reader",
		Permissions: []Capability{CapDBQuery},
	})

	_, err := h.Call(context.Background(), "reader", CapEditorInsert, map[string]any{
		"page": "Home", "content": "sneaky",
	})
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if len(eng.inserted) != 0 {
		t.Error("denied call reached the editor")
	}
}

func TestQueryAndInsert(t *testing.T) {
	eng := &fakeEngine{hits: []*model.Block{{Content: "hit"}}}
	h := newHost(t, eng, Descriptor{
		ID:          "full",
		Permissions: []Capability{CapDBQuery, CapEditorInsert},
	})

	res, err := h.Call(context.Background(), "full", CapDBQuery, map[string]any{
		"kind": "search", "term": "hit",
	})
	if err != nil {
		t.Fatal(err)
	}
	if blocks, ok := res.([]*model.Block); !ok || len(blocks) != 1 {
		t.Fatalf("result = %#v", res)
	}

	res, err = h.Call(context.Background(), "full", CapEditorInsert, map[string]any{
		"page": "Home", "content": "from plugin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(eng.inserted) != 1 || eng.inserted[0] != "from plugin" {
		t.Errorf("inserted = %v", eng.inserted)
	}
	if m, ok := res.(map[string]string); !ok || m["id"] == "" {
		t.Errorf("insert result = %#v", res)
	}
}

func TestTimeoutAbortsCall(t *testing.T) {
	eng := &fakeEngine{delay: 500 * time.Millisecond}
	h := newHost(t, eng, Descriptor{
		ID:          "slow",
		Permissions: []Capability{CapDBQuery},
		Limits:      ResourceLimits{Timeout: 20 * time.Millisecond},
	})

	_, err := h.Call(context.Background(), "slow", CapDBQuery, map[string]any{
		"kind": "search", "term": "x",
	})
	if !errors.Is(err, apperr.ErrResourceExceeded) {
		t.Fatalf("err = %v, want ErrResourceExceeded", err)
	}
}

func TestResultCeiling(t *testing.T) {
	big := make([]*model.Block, 64)
	for i := range big {
		big[i] = &model.Block{Content: "a very long block body that repeats and repeats"}
	}
	eng := &fakeEngine{hits: big}
	h := newHost(t, eng, Descriptor{
		ID:          "hungry",
		Permissions: []Capability{CapDBQuery},
		Limits:      ResourceLimits{MaxResultBytes: 128},
	})

	_, err := h.Call(context.Background(), "hungry", CapDBQuery, map[string]any{
		"kind": "search", "term": "a",
	})
	if !errors.Is(err, apperr.ErrResourceExceeded) {
		t.Fatalf("err = %v, want ErrResourceExceeded", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	eng := &fakeEngine{}
	h := newHost(t, eng, Descriptor{
		ID:          "cfg",
		Permissions: []Capability{CapSettingsGet, CapSettingsSet},
	})

	if _, err := h.Call(context.Background(), "cfg", CapSettingsSet, map[string]any{
		"key": "theme", "value": "dark",
	}); err != nil {
		t.Fatal(err)
	}
	res, err := h.Call(context.Background(), "cfg", CapSettingsGet, map[string]any{"key": "theme"})
	if err != nil {
		t.Fatal(err)
	}
	if m := res.(map[string]string); m["value"] != "dark" {
		t.Errorf("value = %q", m["value"])
	}
}

func TestDuplicateRegistration(t *testing.T) {
	h := NewHost(&fakeEngine{}, &fakeEngine{})
	d := Descriptor{ID: "p", Permissions: []Capability{CapDBQuery}}
	if err := h.Register(d); err != nil {
		t.Fatal(err)
	}
	if err := h.Register(d); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}
