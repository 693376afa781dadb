package vault

import (
	"log/slog"
	"sync"

	"github.com/starford/odal/internal/checksum"
	"github.com/starford/odal/internal/graphservice"
)

// Vault keeps the graph and the outline files on disk in step. Checksums of
// the last imported or exported content let both directions skip no-op work,
// which also stops the watcher from re-importing the vault's own writes.
type Vault struct {
	fs     *FS
	svc    *graphservice.Service
	logger *slog.Logger

	mu        sync.Mutex
	checksums map[string]string // file path → digest of last synced content
}

// New creates a vault over the given filesystem and graph service.
func New(fs *FS, svc *graphservice.Service, logger *slog.Logger) *Vault {
	return &Vault{fs: fs, svc: svc, logger: logger, checksums: make(map[string]string)}
}

// ImportFile reads one outline file into the graph, replacing the page's
// content. Returns false when the file matches the last synced state and
// nothing was imported.
func (v *Vault) ImportFile(rel string) (bool, error) {
	data, err := v.fs.Read(rel)
	if err != nil {
		return false, err
	}
	cs := checksum.Sum(data)

	v.mu.Lock()
	if v.checksums[rel] == cs {
		v.mu.Unlock()
		return false, nil
	}
	v.mu.Unlock()

	if err := v.svc.ImportPage(PageName(rel), Decode(data)); err != nil {
		return false, err
	}

	v.mu.Lock()
	v.checksums[rel] = cs
	v.mu.Unlock()
	return true, nil
}

// ExportPage writes one page's outline to its vault file.
func (v *Vault) ExportPage(page string) error {
	p, err := v.svc.GetPage(page)
	if err != nil {
		return err
	}
	lines, err := v.svc.ExportPage(page)
	if err != nil {
		return err
	}
	data := Encode(lines)
	rel := PageFile(p.OriginalName)
	if err := v.fs.Write(rel, data); err != nil {
		return err
	}

	v.mu.Lock()
	v.checksums[rel] = checksum.Sum(data)
	v.mu.Unlock()
	return nil
}

// RemoveFile clears the page whose outline file disappeared from disk.
// The page itself stays so backlinks keep resolving.
func (v *Vault) RemoveFile(rel string) error {
	v.mu.Lock()
	delete(v.checksums, rel)
	v.mu.Unlock()

	page := PageName(rel)
	if _, err := v.svc.GetPage(page); err != nil {
		return nil
	}
	return v.svc.ImportPage(page, nil)
}

// Sync walks the vault and brings graph and disk in step:
//   - new/changed files are imported
//   - files removed from disk clear their page's blocks
//   - pages with content but no file are exported
func (v *Vault) Sync() error {
	metas, err := v.fs.List()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		changed, err := v.ImportFile(m.Path)
		if err != nil {
			v.logger.Warn("sync: import failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if changed {
			v.logger.Debug("sync: imported", slog.String("path", m.Path))
		}
	}

	// Clear pages whose files vanished.
	v.mu.Lock()
	var stale []string
	for p := range v.checksums {
		if _, ok := disk[p]; !ok {
			stale = append(stale, p)
		}
	}
	v.mu.Unlock()
	for _, p := range stale {
		if err := v.RemoveFile(p); err != nil {
			v.logger.Warn("sync: remove failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			v.logger.Debug("sync: removed stale", slog.String("path", p))
		}
	}

	// Export pages that have blocks but no outline file yet. Happens when
	// the graph was restored from SQLite into an empty vault.
	for _, p := range v.svc.Pages() {
		rel := PageFile(p.OriginalName)
		if _, ok := disk[rel]; ok {
			continue
		}
		if len(v.svc.Store().RootBlocks(p.Name)) == 0 {
			continue
		}
		if err := v.ExportPage(p.Name); err != nil {
			v.logger.Warn("sync: export failed", slog.String("page", p.Name), slog.String("error", err.Error()))
		} else {
			v.logger.Debug("sync: exported", slog.String("page", p.Name))
		}
	}
	return nil
}
