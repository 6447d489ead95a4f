// Package archive keeps an append-only copy of every submitted document
// and its hash audit trail on disk. Nothing here is ever overwritten;
// regulators expect the archived bytes to match what was sent, years later.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rezonia/zatca-pipeline/internal/hashchain"
	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Archive writes compliance artifacts under a root directory, one
// subdirectory per company
type Archive struct {
	root string
}

// New creates an archive rooted at dir
func New(dir string) *Archive {
	return &Archive{root: dir}
}

// StoreXML archives a document for an invoice. kind distinguishes
// artifacts of the same invoice ("generated", "signed", "cleared").
// Returns the stored path; refuses to overwrite.
func (a *Archive) StoreXML(companyID uint64, uuid, kind, xml string) (string, error) {
	dir, err := a.companyDir(companyID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.xml", uuid, kind))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", model.NewPipelineError(model.ErrCodeValidation, "archive",
				fmt.Sprintf("artifact %s already archived", filepath.Base(path)), nil)
		}
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString(xml); err != nil {
		return "", err
	}
	return path, nil
}

// StoreAudit archives the hash audit trail for an invoice as JSON
func (a *Archive) StoreAudit(companyID uint64, audit *hashchain.Audit) (string, error) {
	dir, err := a.companyDir(companyID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-audit.json", audit.UUID))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(audit); err != nil {
		return "", err
	}
	return path, nil
}

// ReadXML returns an archived document
func (a *Archive) ReadXML(companyID uint64, uuid, kind string) (string, error) {
	path := filepath.Join(a.root, fmt.Sprintf("%d", companyID), fmt.Sprintf("%s-%s.xml", uuid, kind))
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// List returns the archived artifact filenames for a company, sorted
func (a *Archive) List(companyID uint64) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.root, fmt.Sprintf("%d", companyID)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *Archive) companyDir(companyID uint64) (string, error) {
	dir := filepath.Join(a.root, fmt.Sprintf("%d", companyID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
