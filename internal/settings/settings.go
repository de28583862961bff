package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/Gothik99/botweb/internal/models"
)

// NodesKey is the settings row holding the node list as a JSON array.
const NodesKey = "xui_servers"

// Manager loads the settings table into a cache and hands out typed values.
// Texts and numeric knobs are served from the cache (call Reload after an
// admin edit); the node list bypasses the cache entirely because capacity,
// priority and exclusion flags may change between two grant operations.
type Manager struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[string]string
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db, cache: make(map[string]string)}
}

// Reload replaces the cache with the current settings table contents.
// On query failure the previous cache is kept so the bot can keep running
// on stale texts.
func (m *Manager) Reload() error {
	var rows []models.Setting
	if err := m.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	fresh := make(map[string]string, len(rows))
	for _, row := range rows {
		fresh[row.Key] = row.Value
	}

	m.mu.Lock()
	m.cache = fresh
	m.mu.Unlock()
	return nil
}

// Seed inserts missing default rows without overwriting edited values.
func (m *Manager) Seed(defaults map[string]models.Setting) error {
	for key, s := range defaults {
		s.Key = key
		res := m.db.Where(models.Setting{Key: key}).FirstOrCreate(&models.Setting{}, s)
		if res.Error != nil {
			return fmt.Errorf("failed to seed setting %q: %w", key, res.Error)
		}
	}
	return nil
}

func (m *Manager) Get(key, fallback string) string {
	m.mu.RLock()
	v, ok := m.cache[key]
	m.mu.RUnlock()
	if !ok || v == "" {
		return fallback
	}
	return v
}

func (m *Manager) GetInt(key string, fallback int) int {
	return coerceInt(m.Get(key, ""), fallback)
}

func (m *Manager) GetBool(key string, fallback bool) bool {
	return coerceBool(m.Get(key, ""), fallback)
}

// Nodes returns the current node list, read fresh from the database.
func (m *Manager) Nodes() ([]Node, error) {
	var row models.Setting
	err := m.db.Where("key = ?", NodesKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node list: %w", err)
	}
	return ParseNodes([]byte(row.Value))
}

// Node looks up a single node descriptor by id.
func (m *Manager) Node(id int) (Node, bool, error) {
	nodes, err := m.Nodes()
	if err != nil {
		return Node{}, false, err
	}
	for _, n := range nodes {
		if n.ID == id {
			return n, true, nil
		}
	}
	return Node{}, false, nil
}

// ParseNodes decodes the JSON node list stored in the settings table.
func ParseNodes(raw []byte) ([]Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var nodes []Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("invalid node list JSON: %w", err)
	}
	return nodes, nil
}

func coerceInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func coerceBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "t", "y", "yes":
		return true
	case "false", "0", "f", "n", "no":
		return false
	}
	return fallback
}
