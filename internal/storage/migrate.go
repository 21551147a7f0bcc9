package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opencode-ai/sharesync/internal/logging"
)

// counterFile holds the index of the next migration to run, as plain
// text at the storage root. It is deliberately not a .json key so it
// never shows up in List or the watcher.
const counterFile = "migration"

// A Migration upgrades the on-disk layout. Migrations run in order at
// open and must be idempotent in effect: a crash between a migration
// and the counter advance reruns it on the next open.
type Migration struct {
	Name string
	Run  func(ctx context.Context, s *Storage) error
}

var migrations = []Migration{
	{
		Name: "move share grants out of the session namespace",
		Run:  migrateShareGrants,
	},
	{
		Name: "drop orphaned temp files",
		Run:  migrateDropTempFiles,
	},
}

// migrate runs every registered migration at or past the stored counter.
func (s *Storage) migrate(ctx context.Context) error {
	counter, err := s.readCounter()
	if err != nil {
		return err
	}

	for i := counter; i < len(migrations); i++ {
		m := migrations[i]
		if err := m.Run(ctx, s); err != nil {
			return fmt.Errorf("storage migration %d (%s) failed: %w", i, m.Name, err)
		}
		if err := s.writeCounter(i + 1); err != nil {
			return err
		}
		logging.Info().Int("index", i).Str("name", m.Name).Msg("storage migration applied")
	}

	return nil
}

func (s *Storage) readCounter() (int, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, counterFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read migration counter: %w", err)
	}

	counter, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt migration counter %q: %w", data, err)
	}
	return counter, nil
}

func (s *Storage) writeCounter(counter int) error {
	path := filepath.Join(s.basePath, counterFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(strconv.Itoa(counter)), 0644); err != nil {
		return fmt.Errorf("failed to write migration counter: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename migration counter: %w", err)
	}
	return nil
}

// migrateShareGrants moves share grants from the legacy
// session/share/<sesID> location to share/<sesID>. The old location sat
// inside the synced session namespace, where the publisher pipeline
// would pick grants up and the server would reject them on every write.
func migrateShareGrants(ctx context.Context, s *Storage) error {
	const legacyPrefix = "session/share"

	err := s.Scan(ctx, legacyPrefix, func(key string, data json.RawMessage) error {
		sessionID := key[strings.LastIndex(key, "/")+1:]
		if err := s.Put(ctx, "share/"+sessionID, data); err != nil {
			return err
		}
		return s.Delete(ctx, key)
	})
	if err != nil {
		return err
	}

	return s.DeleteDir(ctx, legacyPrefix)
}

// migrateDropTempFiles removes .tmp files abandoned by a crash between
// the temp write and the rename. They are never valid keys, but they
// confuse backup tooling and accumulate forever otherwise.
func migrateDropTempFiles(ctx context.Context, s *Storage) error {
	return filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmp") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	})
}
