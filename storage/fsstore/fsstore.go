package fsstore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dreamware/corestore/storage"
)

const (
	seedFileName  = "seed"
	lockFileName  = ".lock"
	aliasFileName = "alias.json"
	coresDirName  = "cores"
	recordName    = "core.json"
)

// coreRecord is the on-disk shape of one core's cores/.../core.json.
// Manifest is kept opaque (base64 of whatever bytes Corestore passed
// in); this backend never decodes it.
type coreRecord struct {
	Key          string            `json:"key,omitempty"`
	DiscoveryKey string            `json:"discovery_key"`
	Manifest     string            `json:"manifest,omitempty"`
	UserData     map[string]string `json:"user_data,omitempty"`
}

// Store is a filesystem-rooted storage.Storage. Construct with Open.
type Store struct {
	mu       sync.Mutex
	baseDir  string
	lockFile *os.File
}

// Open claims baseDir as a storage root, creating its directory
// structure if absent, and takes an exclusive lock on it. The lock is
// released by Close. Open fails if another process already holds it.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, coresDirName), 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create %s: %w", baseDir, err)
	}
	lockPath := filepath.Join(baseDir, lockFileName)
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("fsstore: %s is locked by another process (remove %s if that is not the case): %w", baseDir, lockPath, err)
		}
		return nil, fmt.Errorf("fsstore: acquire lock: %w", err)
	}
	return &Store{baseDir: baseDir, lockFile: lf}, nil
}

func (s *Store) seedPath() string  { return filepath.Join(s.baseDir, seedFileName) }
func (s *Store) aliasPath() string { return filepath.Join(s.baseDir, aliasFileName) }

func (s *Store) corePath(dk [storage.KeySize]byte) string {
	h := hex.EncodeToString(dk[:])
	return filepath.Join(s.baseDir, coresDirName, h[0:2], h[2:4], h)
}

func (s *Store) recordPath(dk [storage.KeySize]byte) string {
	return filepath.Join(s.corePath(dk), recordName)
}

// writeAtomic stages data to a temp file beside path and renames it
// into place, so a crash mid-write never corrupts the prior contents.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// GetSeed implements storage.Storage.
func (s *Store) GetSeed(ctx context.Context) ([storage.KeySize]byte, error) {
	var out [storage.KeySize]byte
	raw, err := os.ReadFile(s.seedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return out, storage.ErrNoSeed
		}
		return out, err
	}
	if len(raw) != storage.KeySize {
		return out, fmt.Errorf("fsstore: seed file has %d bytes, want %d", len(raw), storage.KeySize)
	}
	copy(out[:], raw)
	return out, nil
}

// SetSeed implements storage.Storage.
func (s *Store) SetSeed(ctx context.Context, seed [storage.KeySize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.seedPath(), seed[:], 0o600)
}

// Has implements storage.Storage.
func (s *Store) Has(ctx context.Context, discoveryKey [storage.KeySize]byte) (bool, error) {
	_, err := os.Stat(s.recordPath(discoveryKey))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) readRecord(dk [storage.KeySize]byte) (*coreRecord, error) {
	raw, err := os.ReadFile(s.recordPath(dk))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var rec coreRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("fsstore: corrupt record %s: %w", s.recordPath(dk), err)
	}
	return &rec, nil
}

func (s *Store) writeRecord(dk [storage.KeySize]byte, rec *coreRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return writeAtomic(s.recordPath(dk), raw, 0o644)
}

// GetAuth implements storage.Storage.
func (s *Store) GetAuth(ctx context.Context, discoveryKey [storage.KeySize]byte) (storage.Auth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(discoveryKey)
	if err != nil {
		return storage.Auth{}, err
	}
	if rec.Key == "" {
		return storage.Auth{}, storage.ErrNotFound
	}
	keyBytes, err := hex.DecodeString(rec.Key)
	if err != nil {
		return storage.Auth{}, fmt.Errorf("fsstore: corrupt key: %w", err)
	}
	var auth storage.Auth
	copy(auth.Key[:], keyBytes)
	auth.DiscoveryKey = discoveryKey
	if rec.Manifest != "" {
		manifest, err := base64.StdEncoding.DecodeString(rec.Manifest)
		if err != nil {
			return storage.Auth{}, fmt.Errorf("fsstore: corrupt manifest: %w", err)
		}
		auth.Manifest = manifest
	}
	return auth, nil
}

// SetAuth implements storage.Storage.
func (s *Store) SetAuth(ctx context.Context, discoveryKey [storage.KeySize]byte, auth storage.Auth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(discoveryKey)
	if err != nil {
		if err != storage.ErrNotFound {
			return err
		}
		rec = &coreRecord{}
	}
	rec.Key = hex.EncodeToString(auth.Key[:])
	rec.DiscoveryKey = hex.EncodeToString(discoveryKey[:])
	if auth.Manifest != nil {
		rec.Manifest = base64.StdEncoding.EncodeToString(auth.Manifest)
	}
	return s.writeRecord(discoveryKey, rec)
}

// GetUserData implements storage.Storage.
func (s *Store) GetUserData(ctx context.Context, discoveryKey [storage.KeySize]byte, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(discoveryKey)
	if err != nil {
		return nil, err
	}
	val, ok := rec.UserData[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return base64.StdEncoding.DecodeString(val)
}

// SetUserData implements storage.Storage.
func (s *Store) SetUserData(ctx context.Context, discoveryKey [storage.KeySize]byte, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(discoveryKey)
	if err != nil {
		if err != storage.ErrNotFound {
			return err
		}
		rec = &coreRecord{DiscoveryKey: hex.EncodeToString(discoveryKey[:])}
	}
	if rec.UserData == nil {
		rec.UserData = make(map[string]string)
	}
	rec.UserData[key] = base64.StdEncoding.EncodeToString(value)
	return s.writeRecord(discoveryKey, rec)
}

// CreateCoreStream implements storage.Storage. Version is always 0:
// this backend keeps manifests opaque and never decodes a version out
// of them.
func (s *Store) CreateCoreStream(ctx context.Context) ([]storage.CoreStreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.CoreStreamEntry
	root := filepath.Join(s.baseDir, coresDirName)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(path) != recordName {
			return nil
		}
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		var rec coreRecord
		if uerr := json.Unmarshal(raw, &rec); uerr != nil {
			return fmt.Errorf("fsstore: corrupt record %s: %w", path, uerr)
		}
		dkBytes, derr := hex.DecodeString(rec.DiscoveryKey)
		if derr != nil {
			return fmt.Errorf("fsstore: corrupt discovery key in %s: %w", path, derr)
		}
		var entry storage.CoreStreamEntry
		copy(entry.DiscoveryKey[:], dkBytes)
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDiscoveryKeyStream implements storage.Storage.
func (s *Store) CreateDiscoveryKeyStream(ctx context.Context, namespace *[storage.KeySize]byte) ([][storage.KeySize]byte, error) {
	entries, err := s.CreateCoreStream(ctx)
	if err != nil {
		return nil, err
	}
	if namespace == nil {
		out := make([][storage.KeySize]byte, len(entries))
		for i, e := range entries {
			out[i] = e.DiscoveryKey
		}
		return out, nil
	}

	var out [][storage.KeySize]byte
	for _, e := range entries {
		raw, err := s.GetUserData(ctx, e.DiscoveryKey, "corestore/namespace")
		if err != nil {
			continue
		}
		if len(raw) == storage.KeySize && [storage.KeySize]byte(raw) == *namespace {
			out = append(out, e.DiscoveryKey)
		}
	}
	return out, nil
}

type aliasTable map[string]string

func aliasCompositeKey(k storage.AliasKey) string {
	return hex.EncodeToString(k.Namespace[:]) + ":" + k.Name
}

func (s *Store) readAliasTable() (aliasTable, error) {
	raw, err := os.ReadFile(s.aliasPath())
	if err != nil {
		if os.IsNotExist(err) {
			return aliasTable{}, nil
		}
		return nil, err
	}
	var t aliasTable
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("fsstore: corrupt alias table: %w", err)
	}
	return t, nil
}

// GetAlias implements storage.Storage.
func (s *Store) GetAlias(ctx context.Context, key storage.AliasKey) ([storage.KeySize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [storage.KeySize]byte
	table, err := s.readAliasTable()
	if err != nil {
		return out, err
	}
	hexDK, ok := table[aliasCompositeKey(key)]
	if !ok {
		return out, storage.ErrNotFound
	}
	dkBytes, err := hex.DecodeString(hexDK)
	if err != nil {
		return out, fmt.Errorf("fsstore: corrupt alias entry: %w", err)
	}
	copy(out[:], dkBytes)
	return out, nil
}

// SetAlias implements storage.Storage.
func (s *Store) SetAlias(ctx context.Context, key storage.AliasKey, discoveryKey [storage.KeySize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.readAliasTable()
	if err != nil {
		return err
	}
	table[aliasCompositeKey(key)] = hex.EncodeToString(discoveryKey[:])
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return writeAtomic(s.aliasPath(), raw, 0o644)
}

// Close releases this store's exclusive lock on its base directory.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockFile == nil {
		return nil
	}
	err := s.lockFile.Close()
	os.Remove(filepath.Join(s.baseDir, lockFileName))
	s.lockFile = nil
	return err
}

// Flush is a no-op: every write in this backend is already durable
// (staged to a temp file, then renamed) before its call returns.
func (s *Store) Flush(ctx context.Context) error { return nil }

// Suspend is a no-op: this backend has no background compaction to
// pause.
func (s *Store) Suspend(ctx context.Context) error { return nil }

// Resume is a no-op, matching Suspend.
func (s *Store) Resume(ctx context.Context) error { return nil }
