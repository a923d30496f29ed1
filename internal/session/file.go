package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lazypower/thoughtloop/internal/seqfile"
)

const fileExt = ".json"

// FileStore keeps one JSON file per snapshot in a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the store directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Save writes a new record and returns its name. The file is written to a
// temp name and renamed so a crash never leaves a half-written record.
func (fs *FileStore) Save(s Snapshot) (string, error) {
	data, err := Encode(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	n, err := seqfile.Next(fs.dir)
	if err != nil {
		return "", fmt.Errorf("number snapshot: %w", err)
	}
	name := RecordName(n, fs.now(), s)
	file := name + fileExt

	tmp, err := os.CreateTemp(fs.dir, ".tmp_snapshot_*")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(fs.dir, file)); err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}
	return name, nil
}

// Load reads and validates a record.
func (fs *FileStore) Load(name string) (Snapshot, error) {
	path, err := fs.path(name)
	if err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", name, err)
	}
	return snap, nil
}

// Delete removes a record permanently.
func (fs *FileStore) Delete(name string) error {
	path, err := fs.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List returns all records, newest number first.
func (fs *FileStore) List() ([]Info, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		n, ok := seqfile.Number(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:    strings.TrimSuffix(e.Name(), fileExt),
			Number:  n,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sortInfos(infos)
	return infos, nil
}

func (fs *FileStore) path(name string) (string, error) {
	name = strings.TrimSuffix(name, fileExt)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	return filepath.Join(fs.dir, name+fileExt), nil
}
