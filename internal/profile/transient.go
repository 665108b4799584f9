package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/loykin/affinity/internal/errdefs"
)

// transientFile is the on-disk form of a one-shot profile handed to an
// elevated instance of the tool.
type transientFile struct {
	Name    string   `json:"name"`
	Profile Profile  `json:"profile"`
	Args    []string `json:"runtime_args,omitempty"`
}

// WriteTransient stores p (and the runtime arguments of the pending launch)
// under dir as transient-<uuid>.json and returns the file path.
func WriteTransient(dir string, p Profile, args []string) (string, error) {
	if _, err := p.Validate(0); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create transient dir: %w", err)
	}
	b, err := json.MarshalIndent(transientFile{Name: p.Name, Profile: p, Args: args}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transient profile: %w", err)
	}
	path := filepath.Join(dir, "transient-"+uuid.NewString()+".json")
	if err := writeFileAtomic(path, b); err != nil {
		return "", err
	}
	return path, nil
}

// OpenTransient reads a transient profile and returns a release func that
// deletes the file. Release is idempotent and must be deferred by the caller
// so the file disappears on every exit path.
func OpenTransient(path string) (Profile, []string, func(), error) {
	release := releaseOnce(path)
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, nil, func() {}, errdefs.New(errdefs.InvalidProfile, "open transient profile", err)
		}
		return Profile{}, nil, release, fmt.Errorf("open transient profile: %w", err)
	}
	var tf transientFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return Profile{}, nil, release, errdefs.New(errdefs.InvalidProfile, "decode transient profile", err)
	}
	p := tf.Profile
	p.Name = tf.Name
	return p, tf.Args, release, nil
}

func releaseOnce(path string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { _ = os.Remove(path) })
	}
}
