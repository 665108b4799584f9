package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/loykin/affinity/internal/errdefs"
)

const (
	// AppDirName is the directory created under the user's config dir.
	AppDirName = "affinity"
	// FileName is the default profile file name.
	FileName = "profiles.json"
)

// ConfigDir returns <UserConfigDir>/affinity without creating it.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find a valid home directory to store profiles: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// DefaultPath returns the default location of the profile file.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Store persists profiles as a single JSON object keyed by profile name.
// Each operation reads the file afresh; writers replace it atomically and the
// last writer wins.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Load returns all profiles. A missing file yields an empty map.
func (s *Store) Load() (map[string]Profile, error) {
	b, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return decodeProfiles(b)
}

func decodeProfiles(b []byte) (map[string]Profile, error) {
	out := map[string]Profile{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errdefs.New(errdefs.InvalidProfile, "decode profiles", err)
	}
	for name, msg := range raw {
		p := Profile{Name: name}
		if err := json.Unmarshal(msg, &p); err != nil {
			return nil, errdefs.New(errdefs.InvalidProfile, fmt.Sprintf("decode profile %q", name), err)
		}
		p.Name = name
		out[name] = p
	}
	return out, nil
}

// Save replaces the file with the given profiles.
func (s *Store) Save(profiles map[string]Profile) error {
	b, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	return writeFileAtomic(s.path, append(b, '\n'))
}

// Get looks up a single profile.
func (s *Store) Get(name string) (Profile, bool, error) {
	all, err := s.Load()
	if err != nil {
		return Profile{}, false, err
	}
	p, ok := all[name]
	return p, ok, nil
}

// Put inserts or replaces a profile.
func (s *Store) Put(p Profile) error {
	if p.Name == "" {
		return errdefs.Errorf(errdefs.InvalidProfile, "save profile", "profile name is required")
	}
	if _, err := p.Validate(0); err != nil {
		return err
	}
	all, err := s.Load()
	if err != nil {
		return err
	}
	p.CPUs = NormalizeCores(p.CPUs)
	all[p.Name] = p
	return s.Save(all)
}

// Delete removes a profile and reports whether it existed.
func (s *Store) Delete(name string) (bool, error) {
	all, err := s.Load()
	if err != nil {
		return false, err
	}
	if _, ok := all[name]; !ok {
		return false, nil
	}
	delete(all, name)
	return true, s.Save(all)
}

// List returns profiles sorted by name.
func (s *Store) List() ([]Profile, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write profiles to disk: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write profiles to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write profiles to disk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write profiles to disk: %w", err)
	}
	return nil
}
