package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// storeRecord 是会话的落盘格式。时间戳用 RFC3339Nano，保证精确往返。
type storeRecord struct {
	OwnerID         string `json:"owner_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	LastAccess      string `json:"last_access"`
	StartedAt       string `json:"started_at"`
}

// Store persists the session map as a JSON document so idle accounting
// survives process restarts. Persistence is best-effort: the in-memory
// map stays authoritative when reads or writes fail.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted session map. A missing file is an empty map.
func (s *Store) Load() (map[string]*Session, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}

	var records map[string]storeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode session store: %w", err)
	}

	sessions := make(map[string]*Session, len(records))
	for containerID, rec := range records {
		lastAccess, err := time.Parse(time.RFC3339Nano, rec.LastAccess)
		if err != nil {
			return nil, fmt.Errorf("decode last_access for %s: %w", containerID, err)
		}
		startedAt, err := time.Parse(time.RFC3339Nano, rec.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("decode started_at for %s: %w", containerID, err)
		}
		sessions[containerID] = &Session{
			ContainerID: containerID,
			OwnerID:     rec.OwnerID,
			Duration:    time.Duration(rec.DurationSeconds) * time.Second,
			LastAccess:  lastAccess,
			StartedAt:   startedAt,
		}
	}
	return sessions, nil
}

// Save serializes the session map. The parent directory is created on
// demand so first boot on a fresh volume works.
func (s *Store) Save(sessions map[string]*Session) error {
	records := make(map[string]storeRecord, len(sessions))
	for containerID, sess := range sessions {
		records[containerID] = storeRecord{
			OwnerID:         sess.OwnerID,
			DurationSeconds: int64(sess.Duration / time.Second),
			LastAccess:      sess.LastAccess.Format(time.RFC3339Nano),
			StartedAt:       sess.StartedAt.Format(time.RFC3339Nano),
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create session store dir: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}
