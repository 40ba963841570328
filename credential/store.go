package credential

import "os"

// MemStore keeps the record in RAM only. Used on targets without a writable
// filesystem and as the test double.
type MemStore struct {
	rec  Record
	have bool
}

func (m *MemStore) Load() (Record, bool) { return m.rec, m.have }

func (m *MemStore) Save(r Record) error {
	m.rec = r
	m.have = true
	return nil
}

func (m *MemStore) Clear() {
	m.rec = Record{}
	m.have = false
}

// FileStore persists the record as a small JSON file.
type FileStore struct {
	Path string
}

func (f *FileStore) Load() (Record, bool) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Record{}, false
	}
	return Parse(data)
}

func (f *FileStore) Save(r Record) error {
	return os.WriteFile(f.Path, Marshal(nil, r), 0o600)
}

func (f *FileStore) Clear() {
	os.Remove(f.Path)
}
