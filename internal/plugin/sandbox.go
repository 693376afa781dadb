// Package plugin implements the capability-gated sandbox through which
// untrusted extensions reach the engine. Plugins never touch store internals;
// they get a fixed, enumerable command set, each call checked against the
// plugin's declared permissions and bounded by its resource limits.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/model"
)

// Capability names one sandboxed entry point.
type Capability string

const (
	CapDBQuery      Capability = "db.query"
	CapEditorInsert Capability = "editor.insert_block"
	CapEditorUpdate Capability = "editor.update_block"
	CapSettingsGet  Capability = "settings.get"
	CapSettingsSet  Capability = "settings.set"
)

// ResourceLimits bound a single sandboxed call.
type ResourceLimits struct {
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	MaxResultBytes int           `json:"max_result_bytes" yaml:"max_result_bytes"`
}

// Descriptor registers a plugin with the host before any call is permitted.
type Descriptor struct {
	ID          string         `json:"id" yaml:"id"`
	Permissions []Capability   `json:"permissions" yaml:"permissions"`
	Limits      ResourceLimits `json:"resource_limits" yaml:"resource_limits"`
}

// Editor is the mutation surface the sandbox exposes. It is the same entry
// point local edits use, so sandboxed mutations obey every store invariant.
type Editor interface {
	InsertBlock(page string, parent, left uuid.UUID, content string, props map[string]string) (uuid.UUID, error)
	UpdateBlock(id uuid.UUID, content *string, props map[string]string) error
}

// Querier is the read surface the sandbox exposes.
type Querier interface {
	Search(ctx context.Context, term string) ([]*model.Block, error)
	FindByProperty(ctx context.Context, key, value string) ([]*model.Block, error)
	Backlinks(page string) []*model.Block
}

type pluginState struct {
	desc     Descriptor
	perms    map[Capability]struct{}
	settings map[string]string
}

// Host runs sandboxed calls on behalf of registered plugins.
type Host struct {
	editor  Editor
	querier Querier

	mu      sync.RWMutex
	plugins map[string]*pluginState
}

// NewHost creates a plugin host over the given engine surfaces.
func NewHost(editor Editor, querier Querier) *Host {
	return &Host{
		editor:  editor,
		querier: querier,
		plugins: make(map[string]*pluginState),
	}
}

// Register adds a plugin descriptor. Calls from unknown plugins are rejected.
func (h *Host) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("plugin: descriptor without id")
	}
	if d.Limits.Timeout <= 0 {
		d.Limits.Timeout = 2 * time.Second
	}
	if d.Limits.MaxResultBytes <= 0 {
		d.Limits.MaxResultBytes = 1 << 20
	}
	perms := make(map[Capability]struct{}, len(d.Permissions))
	for _, c := range d.Permissions {
		perms[c] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.plugins[d.ID]; dup {
		return fmt.Errorf("plugin: %q: %w", d.ID, apperr.ErrAlreadyExists)
	}
	h.plugins[d.ID] = &pluginState{desc: d, perms: perms, settings: make(map[string]string)}
	return nil
}

// Call executes one sandboxed command. A call outside the plugin's granted
// permission set fails with ErrPermissionDenied and performs no side effect;
// exceeding the wall-clock timeout or the result ceiling fails with
// ErrResourceExceeded and leaves the store unmodified.
func (h *Host) Call(ctx context.Context, pluginID string, capability Capability, args map[string]any) (any, error) {
	h.mu.RLock()
	p, ok := h.plugins[pluginID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: %q not registered: %w", pluginID, apperr.ErrNotFound)
	}
	if _, granted := p.perms[capability]; !granted {
		return nil, fmt.Errorf("plugin: %q lacks %q: %w", pluginID, capability, apperr.ErrPermissionDenied)
	}

	ctx, cancel := context.WithTimeout(ctx, p.desc.Limits.Timeout)
	defer cancel()

	result, err := h.dispatch(ctx, p, capability, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("plugin: %q call %q timed out: %w", pluginID, capability, apperr.ErrResourceExceeded)
		}
		return nil, err
	}

	// Memory ceiling on the payload handed back to untrusted code.
	if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			return nil, fmt.Errorf("plugin: encode result: %w", merr)
		}
		if len(raw) > p.desc.Limits.MaxResultBytes {
			return nil, fmt.Errorf("plugin: %q result %d bytes over ceiling: %w",
				pluginID, len(raw), apperr.ErrResourceExceeded)
		}
	}
	return result, nil
}

func (h *Host) dispatch(ctx context.Context, p *pluginState, capability Capability, args map[string]any) (any, error) {
	switch capability {
	case CapDBQuery:
		return h.query(ctx, args)

	case CapEditorInsert:
		page, _ := args["page"].(string)
		content, _ := args["content"].(string)
		parent, err := argID(args, "parent")
		if err != nil {
			return nil, err
		}
		left, err := argID(args, "left")
		if err != nil {
			return nil, err
		}
		// An expired budget aborts before the mutation; the store never sees
		// a partial call.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := h.editor.InsertBlock(page, parent, left, content, argProps(args))
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": id.String()}, nil

	case CapEditorUpdate:
		id, err := argID(args, "id")
		if err != nil {
			return nil, err
		}
		var content *string
		if c, ok := args["content"].(string); ok {
			content = &c
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.editor.UpdateBlock(id, content, argProps(args)); err != nil {
			return nil, err
		}
		return map[string]string{"id": id.String()}, nil

	case CapSettingsGet:
		key, _ := args["key"].(string)
		h.mu.RLock()
		defer h.mu.RUnlock()
		return map[string]string{"value": p.settings[key]}, nil

	case CapSettingsSet:
		key, _ := args["key"].(string)
		value, _ := args["value"].(string)
		if key == "" {
			return nil, fmt.Errorf("plugin: settings.set requires a key")
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		p.settings[key] = value
		return nil, nil

	default:
		return nil, fmt.Errorf("plugin: unknown capability %q", capability)
	}
}

func (h *Host) query(ctx context.Context, args map[string]any) (any, error) {
	kind, _ := args["kind"].(string)
	switch kind {
	case "search":
		term, _ := args["term"].(string)
		return h.querier.Search(ctx, term)
	case "property":
		key, _ := args["key"].(string)
		value, _ := args["value"].(string)
		return h.querier.FindByProperty(ctx, key, value)
	case "backlinks":
		page, _ := args["page"].(string)
		return h.querier.Backlinks(page), nil
	default:
		return nil, fmt.Errorf("plugin: unknown query kind %q", kind)
	}
}

func argID(args map[string]any, key string) (uuid.UUID, error) {
	raw, ok := args[key].(string)
	if !ok || raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("plugin: argument %q: %w", key, err)
	}
	return id, nil
}

func argProps(args map[string]any) map[string]string {
	raw, ok := args["properties"].(map[string]any)
	if !ok {
		return nil
	}
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			props[k] = s
		}
	}
	return props
}
