package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"tg-channel-digest/internal/domain"
)

// File хранит конфигурации каналов в JSON-файле. Файл перезаписывается
// целиком при каждом изменении, доступ сериализуется мьютексом.
type File struct {
	mu   sync.Mutex
	path string
	byID map[string]domain.ChannelConfig
}

type fileLayout struct {
	Channels []domain.ChannelConfig `json:"channels"`
}

// OpenFile загружает хранилище из файла. Отсутствующий файл считается
// пустым хранилищем и будет создан при первом изменении.
func OpenFile(path string) (*File, error) {
	store := &File{path: path, byID: make(map[string]domain.ChannelConfig)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", path, err)
	}
	for _, cfg := range layout.Channels {
		store.byID[normalizeKey(cfg.Target)] = cfg
	}
	return store, nil
}

// List возвращает все конфигурации, отсортированные по целевому каналу.
func (f *File) List() ([]domain.ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChannelConfig, 0, len(f.byID))
	for _, cfg := range f.byID {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

// Get возвращает конфигурацию целевого канала.
func (f *File) Get(target string) (domain.ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.byID[normalizeKey(target)]
	if !ok {
		return domain.ChannelConfig{}, fmt.Errorf("%s: %w", target, domain.ErrTargetNotFound)
	}
	return cfg, nil
}

// Add сохраняет новую конфигурацию.
func (f *File) Add(cfg domain.ChannelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := normalizeKey(cfg.Target)
	if _, ok := f.byID[key]; ok {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrDuplicateTarget)
	}
	f.byID[key] = cfg
	return f.saveLocked()
}

// Replace заменяет существующую конфигурацию.
func (f *File) Replace(cfg domain.ChannelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := normalizeKey(cfg.Target)
	if _, ok := f.byID[key]; !ok {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrTargetNotFound)
	}
	f.byID[key] = cfg
	return f.saveLocked()
}

// Remove удаляет конфигурацию целевого канала.
func (f *File) Remove(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := normalizeKey(target)
	if _, ok := f.byID[key]; !ok {
		return fmt.Errorf("%s: %w", target, domain.ErrTargetNotFound)
	}
	delete(f.byID, key)
	return f.saveLocked()
}

func (f *File) saveLocked() error {
	layout := fileLayout{Channels: make([]domain.ChannelConfig, 0, len(f.byID))}
	for _, cfg := range f.byID {
		layout.Channels = append(layout.Channels, cfg)
	}
	sort.Slice(layout.Channels, func(i, j int) bool { return layout.Channels[i].Target < layout.Channels[j].Target })
	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return fmt.Errorf("сериализация конфигураций: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("запись %s: %w", f.path, err)
	}
	return nil
}

func normalizeKey(target string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(target), "@"))
}
