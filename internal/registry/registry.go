// Package registry keeps persistent IDs and custom names for network printers
package registry

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/transport"
)

// Sources of registry entries
const (
	SourceDiscovered = "discovered"
	SourceManual     = "manual"
)

// Registry manages printer identities and custom names
type Registry struct {
	filePath string
	data     map[string]*PrinterEntry
	mu       sync.RWMutex
	log      zerolog.Logger
}

// PrinterEntry stores persistent information about a printer
type PrinterEntry struct {
	ID          string    `json:"id"`
	IdentityKey string    `json:"identity_key"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Description string    `json:"description"`
	Name        string    `json:"name,omitempty"` // Custom user-set name
	Source      string    `json:"source"`
	LastSeen    time.Time `json:"last_seen"`
}

// DisplayName returns the custom name, falling back to the description
func (e *PrinterEntry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Description
}

// Address returns the host, with the port appended when it is not the raw
// printing default
func (e *PrinterEntry) Address() string {
	if e.Port == 0 || e.Port == transport.DefaultPort {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PrinterInfo describes a printer being registered
type PrinterInfo struct {
	Host        string
	Port        int
	Description string
	Source      string
}

// New creates a new Registry backed by filePath
func New(filePath string, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*PrinterEntry),
		log:      log.With().Str("component", "registry").Logger(),
	}

	if err := r.load(); err != nil {
		// A missing file is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// GetPrinterID gets or creates a persistent ID for a printer and marks it
// as seen now
func (r *Registry) GetPrinterID(info PrinterInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	identityKey := generateIdentityKey(info)

	if entry, exists := r.data[identityKey]; exists {
		entry.LastSeen = time.Now()
		if info.Source == SourceManual {
			entry.Source = SourceManual
		}
		r.saveLogged()
		return entry.ID
	}

	if info.Description == "" {
		info.Description = fmt.Sprintf("Network: %s:%d", info.Host, info.Port)
	}
	if info.Source == "" {
		info.Source = SourceManual
	}

	entry := &PrinterEntry{
		ID:          uuid.New().String(),
		IdentityKey: identityKey,
		Host:        info.Host,
		Port:        info.Port,
		Description: info.Description,
		Source:      info.Source,
		LastSeen:    time.Now(),
	}
	r.data[identityKey] = entry

	// The ID is still valid in memory if the save fails
	r.saveLogged()

	return entry.ID
}

// RegisterDiscovered records every discovered address on port and returns
// their IDs in the same order
func (r *Registry) RegisterDiscovered(addresses []string, port int) []string {
	ids := make([]string, len(addresses))
	for i, addr := range addresses {
		ids[i] = r.GetPrinterID(PrinterInfo{Host: addr, Port: port, Source: SourceDiscovered})
	}
	return ids
}

// GetPrinterName gets the custom name for a printer, or empty string if not set
func (r *Registry) GetPrinterName(printerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.find(printerID); entry != nil {
		return entry.Name
	}
	return ""
}

// SetPrinterName sets a custom name for a printer. It reports false if the
// printer is unknown. A save error leaves the previous name in place.
func (r *Registry) SetPrinterName(printerID string, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.find(printerID)
	if entry == nil {
		return false, nil
	}

	previous := entry.Name
	entry.Name = name
	if err := r.save(); err != nil {
		entry.Name = previous
		r.log.Error().Err(err).Str("printer", printerID).Msg("failed to save printer name")
		return true, fmt.Errorf("save registry: %w", err)
	}
	return true, nil
}

// GetPrinterInfo gets all stored information for a printer
func (r *Registry) GetPrinterInfo(printerID string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.find(printerID); entry != nil {
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// Resolve maps a printer ID or custom name to its address. Anything else is
// returned unchanged so callers can pass raw addresses through.
func (r *Registry) Resolve(target string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.find(target); entry != nil {
		return entry.Address()
	}
	for _, entry := range r.data {
		if entry.Name != "" && entry.Name == target {
			return entry.Address()
		}
	}
	return target
}

// RemovePrinter removes a printer from the registry. It reports false if the
// printer is unknown. A save error keeps the printer registered.
func (r *Registry) RemovePrinter(printerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.data {
		if entry.ID == printerID {
			delete(r.data, key)
			if err := r.save(); err != nil {
				r.data[key] = entry
				r.log.Error().Err(err).Str("printer", printerID).Msg("failed to save printer removal")
				return true, fmt.Errorf("save registry: %w", err)
			}
			return true, nil
		}
	}
	return false, nil
}

// GetAll returns all registered printers keyed by identity
func (r *Registry) GetAll() map[string]*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*PrinterEntry, len(r.data))
	for k, v := range r.data {
		entryCopy := *v
		result[k] = &entryCopy
	}
	return result
}

// List returns all registered printers sorted by host
func (r *Registry) List() []*PrinterEntry {
	all := r.GetAll()

	result := make([]*PrinterEntry, 0, len(all))
	for _, entry := range all {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Host == result[j].Host {
			return result[i].Port < result[j].Port
		}
		return result[i].Host < result[j].Host
	})
	return result
}

// find must be called with r.mu held
func (r *Registry) find(printerID string) *PrinterEntry {
	for _, entry := range r.data {
		if entry.ID == printerID {
			return entry
		}
	}
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

// saveLogged saves and logs a failure. The in-memory entry stays usable.
func (r *Registry) saveLogged() {
	if err := r.save(); err != nil {
		r.log.Warn().Err(err).Str("path", r.filePath).Msg("failed to save printer registry")
	}
}

// save writes through a temp file so a crash never leaves a torn registry
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), r.filePath)
}

// generateIdentityKey creates a unique key for a printer from its address
func generateIdentityKey(info PrinterInfo) string {
	if info.Host != "" {
		return fmt.Sprintf("network:%s:%d", info.Host, info.Port)
	}

	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}
