package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var fileIndexPattern = regexp.MustCompile(`^auth-(\d+)\.json$`)
var envIndexPattern = regexp.MustCompile(`^AUTH_JSON_(\d+)$`)

// ErrNoValidCredentials is returned by NewStore/Reload when discovery
// leaves no usable index (none found, or every one failed to parse) —
// the only fatal startup condition.
var ErrNoValidCredentials = fmt.Errorf("no valid credentials discovered")

// ErrNotFound is returned by Get for an index that was never discovered
// or was dropped during pre-validation.
var ErrNotFound = fmt.Errorf("credential not found")

// Store holds the discovered credential set. It is safe for concurrent
// use; Reload() may run concurrently with Get()/AvailableIndices().
type Store struct {
	mu sync.RWMutex

	authDir         string
	envMode         bool
	initialIndices  []int
	availableIndices []int
	blobs           map[int]json.RawMessage
	displayNames    map[int]string
	invalid         []int
}

// NewStore discovers and pre-validates credentials rooted at authDir (or
// from AUTH_JSON_<N> environment variables if any are present, which take
// precedence). It fails only if zero indices end up valid.
func NewStore(authDir string) (*Store, error) {
	s := &Store{authDir: authDir, blobs: make(map[int]json.RawMessage), displayNames: make(map[int]string)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-runs discovery and pre-validation, replacing the store's
// snapshot atomically. Used both at startup and by the auth-dir file
// watcher for hot credential pickup.
func (s *Store) Reload() error {
	envMode := hasEnvCredentials()

	var initial []int
	blobs := make(map[int]json.RawMessage)
	names := make(map[int]string)
	var invalid []int

	if envMode {
		initial = discoverEnvIndices()
		for _, idx := range initial {
			raw := []byte(os.Getenv(fmt.Sprintf("AUTH_JSON_%d", idx)))
			if blob, name, err := parseBlob(raw); err != nil {
				log.WithError(err).WithField("index", idx).Warn("credential: invalid AUTH_JSON blob, marking unavailable")
				invalid = append(invalid, idx)
			} else {
				blobs[idx] = blob
				names[idx] = name
			}
		}
	} else {
		var err error
		initial, err = discoverFileIndices(s.authDir)
		if err != nil {
			return fmt.Errorf("discover credential files: %w", err)
		}
		for _, idx := range initial {
			path := filepath.Join(s.authDir, fmt.Sprintf("auth-%d.json", idx))
			raw, err := os.ReadFile(path)
			if err != nil {
				log.WithError(err).WithField("index", idx).Warn("credential: unreadable file, marking unavailable")
				invalid = append(invalid, idx)
				continue
			}
			blob, name, err := parseBlob(raw)
			if err != nil {
				log.WithError(err).WithField("index", idx).Warn("credential: invalid JSON, marking unavailable")
				invalid = append(invalid, idx)
				continue
			}
			blobs[idx] = blob
			names[idx] = name
		}
	}

	available := make([]int, 0, len(blobs))
	for idx := range blobs {
		available = append(available, idx)
	}
	sort.Ints(available)
	sort.Ints(initial)

	if len(available) == 0 {
		return ErrNoValidCredentials
	}

	s.mu.Lock()
	s.envMode = envMode
	s.initialIndices = initial
	s.availableIndices = available
	s.blobs = blobs
	s.displayNames = names
	s.invalid = invalid
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"available": len(available),
		"initial":   len(initial),
		"invalid":   len(invalid),
		"env_mode":  envMode,
	}).Info("credential store discovery complete")
	return nil
}

// Get returns the parsed blob for index, or ErrNotFound if it was never
// discovered or failed pre-validation.
func (s *Store) Get(index int) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[index]
	if !ok {
		return nil, ErrNotFound
	}
	return blob, nil
}

// DisplayName returns the cached accountName for index, or "" if absent.
func (s *Store) DisplayName(index int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayNames[index]
}

// AvailableIndices returns the sorted list of indices that parsed
// successfully; it is always a subset of InitialIndices().
func (s *Store) AvailableIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.availableIndices))
	copy(out, s.availableIndices)
	return out
}

// InitialIndices returns every index discovered, valid or not.
func (s *Store) InitialIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.initialIndices))
	copy(out, s.initialIndices)
	return out
}

// AuthDir returns the directory this store watches in file mode, or ""
// in env mode (nothing to watch).
func (s *Store) AuthDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.envMode {
		return ""
	}
	return s.authDir
}

func hasEnvCredentials() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "AUTH_JSON_") {
			return true
		}
	}
	return false
}

func discoverEnvIndices() []int {
	var out []int
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		m := envIndexPattern.FindStringSubmatch(parts[0])
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	return out
}

func discoverFileIndices(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileIndexPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	return out, nil
}

func parseBlob(raw []byte) (json.RawMessage, string, error) {
	var probe json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, "", err
	}
	var carrier accountNameCarrier
	_ = json.Unmarshal(raw, &carrier) // best-effort; accountName is optional
	return probe, carrier.AccountName, nil
}
