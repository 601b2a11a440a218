package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// File names within the store layout.
const (
	sessionFileName = "session.json"
	archiveFileName = "archive.json"
	snapshotExt     = ".snap"
	consumedExt     = ".consumed"
)

// FileRepository is a filesystem-backed Repository. Layout:
//
//	{base}/sessions/{id}/session.json
//	{base}/sessions/{id}/archive.json
//	{base}/requests/{id}.json
//	{base}/checkpoints/{id}.json    metadata (snapshot omitted)
//	{base}/checkpoints/{id}.snap    msgpack-encoded archive snapshot
//	{base}/checkpoints/{id}.consumed
//
// All writes are atomic (write to temp file, rename). The consumed marker is
// created with O_EXCL, which makes checkpoint consumption a compare-and-swap
// on any POSIX filesystem.
type FileRepository struct {
	baseDir string
	mu      sync.Mutex // Serializes archive precondition checks
}

// NewFileRepository creates a FileRepository rooted at the given directory.
// The directory will be created if it doesn't exist.
func NewFileRepository(baseDir string) (*FileRepository, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "sessions"), filepath.Join(baseDir, "requests"), filepath.Join(baseDir, "checkpoints")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &FileRepository{baseDir: baseDir}, nil
}

func (fr *FileRepository) sessionDir(id string) string {
	return filepath.Join(fr.baseDir, "sessions", id)
}

func (fr *FileRepository) requestPath(id string) string {
	return filepath.Join(fr.baseDir, "requests", id+".json")
}

func (fr *FileRepository) checkpointPath(id string) string {
	return filepath.Join(fr.baseDir, "checkpoints", id+".json")
}

// CreateSession persists a new session, failing if the id is taken.
func (fr *FileRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		return errors.NewValidationError("session ID cannot be empty").WithField("id")
	}

	dir := fr.sessionDir(s.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(dir, sessionFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.NewAlreadyExistsError("session", s.ID)
		}
		return fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// SaveSession persists the current state of an existing session.
func (fr *FileRepository) SaveSession(ctx context.Context, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	dir := fr.sessionDir(s.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, sessionFileName), data, 0644)
}

// LoadSession retrieves a session by id.
func (fr *FileRepository) LoadSession(ctx context.Context, id string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(fr.sessionDir(id), sessionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrSessionCorrupted, err)
	}
	return &s, nil
}

// ListSessions returns all sessions, newest first.
func (fr *FileRepository) ListSessions(ctx context.Context) ([]*Session, error) {
	entries, err := os.ReadDir(filepath.Join(fr.baseDir, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := fr.LoadSession(ctx, entry.Name())
		if err != nil {
			// Skip directories without a readable session file
			continue
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// SaveArchive persists an archive if the stored archive's phase index
// matches the expected value.
func (fr *FileRepository) SaveArchive(ctx context.Context, a *Archive, expectPhase int) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	path := filepath.Join(fr.sessionDir(a.SessionID), archiveFileName)

	current, err := fr.loadArchiveLocked(a.SessionID)
	switch {
	case err == nil:
		if current.PhaseIndex != expectPhase {
			return errors.ErrArchiveStale
		}
	case errors.Is(err, errors.ErrArchiveNotFound):
		if expectPhase != 0 {
			return errors.ErrArchiveStale
		}
	default:
		return err
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	return atomicWriteFile(path, data, 0644)
}

// RestoreArchive overwrites the stored archive unconditionally.
func (fr *FileRepository) RestoreArchive(ctx context.Context, a *Archive) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	dir := fr.sessionDir(a.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, archiveFileName), data, 0644)
}

// LoadArchive retrieves a session's archive.
func (fr *FileRepository) LoadArchive(ctx context.Context, sessionID string) (*Archive, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.loadArchiveLocked(sessionID)
}

func (fr *FileRepository) loadArchiveLocked(sessionID string) (*Archive, error) {
	data, err := os.ReadFile(filepath.Join(fr.sessionDir(sessionID), archiveFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("read archive file: %w", err)
	}

	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}
	if a.Fields == nil {
		a.Fields = make(map[string]string)
	}
	return &a, nil
}

// SaveCheckpoint persists a checkpoint: JSON metadata alongside a compact
// msgpack encoding of the archive snapshot.
func (fr *FileRepository) SaveCheckpoint(ctx context.Context, cp *HandoverCheckpoint) error {
	meta := *cp
	meta.Snapshot = nil

	metaBytes, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	snapBytes, err := msgpack.Marshal(cp.Snapshot)
	if err != nil {
		return fmt.Errorf("encode checkpoint snapshot: %w", err)
	}

	path := fr.checkpointPath(cp.ID)
	if err := atomicWriteFile(strings.TrimSuffix(path, ".json")+snapshotExt, snapBytes, 0644); err != nil {
		return err
	}
	return atomicWriteFile(path, metaBytes, 0644)
}

// LoadCheckpoint retrieves a checkpoint by id, reattaching its snapshot.
func (fr *FileRepository) LoadCheckpoint(ctx context.Context, id string) (*HandoverCheckpoint, error) {
	metaBytes, err := os.ReadFile(fr.checkpointPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp HandoverCheckpoint
	if err := json.Unmarshal(metaBytes, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCheckpointCorrupted, err)
	}

	snapBytes, err := os.ReadFile(strings.TrimSuffix(fr.checkpointPath(id), ".json") + snapshotExt)
	if err != nil {
		return nil, fmt.Errorf("%w: missing snapshot: %v", errors.ErrCheckpointCorrupted, err)
	}
	if err := msgpack.Unmarshal(snapBytes, &cp.Snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCheckpointCorrupted, err)
	}

	// The consumed marker is authoritative over the metadata flag.
	if _, err := os.Stat(strings.TrimSuffix(fr.checkpointPath(id), ".json") + consumedExt); err == nil {
		cp.Consumed = true
	}
	return &cp, nil
}

// ConsumeCheckpoint flips the consumed flag exactly once via an O_EXCL
// marker file.
func (fr *FileRepository) ConsumeCheckpoint(ctx context.Context, id string) error {
	if _, err := os.Stat(fr.checkpointPath(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.ErrCheckpointNotFound
		}
		return fmt.Errorf("stat checkpoint: %w", err)
	}

	marker := strings.TrimSuffix(fr.checkpointPath(id), ".json") + consumedExt
	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.ErrDuplicateResume
		}
		return fmt.Errorf("create consumed marker: %w", err)
	}
	return f.Close()
}

// LatestCheckpoint returns the lexically greatest checkpoint id for the
// session; ULID ids make that the most recent one.
func (fr *FileRepository) LatestCheckpoint(ctx context.Context, sessionID string) (*HandoverCheckpoint, error) {
	entries, err := os.ReadDir(filepath.Join(fr.baseDir, "checkpoints"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var latest *HandoverCheckpoint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if latest != nil && id <= latest.ID {
			continue
		}
		cp, err := fr.LoadCheckpoint(ctx, id)
		if err != nil || cp.SessionID != sessionID {
			continue
		}
		latest = cp
	}

	if latest == nil {
		return nil, errors.ErrCheckpointNotFound
	}
	return latest, nil
}

// SaveRequest persists a human-loop request.
func (fr *FileRepository) SaveRequest(ctx context.Context, r *HumanLoopRequest) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return atomicWriteFile(fr.requestPath(r.ID), data, 0644)
}

// LoadRequest retrieves a request by id.
func (fr *FileRepository) LoadRequest(ctx context.Context, id string) (*HumanLoopRequest, error) {
	data, err := os.ReadFile(fr.requestPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("read request file: %w", err)
	}

	var r HumanLoopRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &r, nil
}

// ListOpenRequests returns every request persisted as pending or reminded.
func (fr *FileRepository) ListOpenRequests(ctx context.Context) ([]*HumanLoopRequest, error) {
	entries, err := os.ReadDir(filepath.Join(fr.baseDir, "requests"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var open []*HumanLoopRequest
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := fr.LoadRequest(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if r.Status == RequestPending || r.Status == RequestReminded {
			open = append(open, r)
		}
	}
	return open, nil
}

// atomicWriteFile writes data to a temporary file and renames it into place,
// so readers never observe a partial write.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
