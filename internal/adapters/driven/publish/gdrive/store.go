package gdrive

import (
	"context"
	"crypto/md5" //nolint:gosec // Drive reports content checksums as MD5.
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.DocumentStore = (*Store)(nil)

// stagingSuffix marks an upload that has not been verified yet.
const stagingSuffix = ".staging"

// namesPerQuery bounds the name clauses of one list query.
const namesPerQuery = 40

// Config configures a Store.
type Config struct {
	// Folder is a slash separated path below My Drive, created if missing.
	Folder    string
	RateLimit RateLimitConfig
}

// Store publishes documents into a Drive folder.
type Store struct {
	api     api
	folder  string
	limiter *RateLimiter

	mu       sync.Mutex
	folderID string
	folders  map[string]string
}

// New creates a store on a Drive service.
func New(svc *drive.Service, cfg Config) *Store {
	return newStore(&serviceAPI{svc: svc}, cfg)
}

func newStore(a api, cfg Config) *Store {
	return &Store{
		api:     a,
		folder:  strings.Trim(cfg.Folder, "/"),
		limiter: NewRateLimiter(cfg.RateLimit),
		folders: make(map[string]string),
	}
}

// Validate checks the credentials and that the folder path can be resolved.
func (s *Store) Validate(ctx context.Context) error {
	var email string
	err := s.call(ctx, func() error {
		var err error
		email, err = s.api.About(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking drive account: %w", err)
	}
	logger.Debug("drive account", "user", email)

	if _, err := s.resolveFolder(ctx); err != nil {
		return err
	}
	return nil
}

// Exists reports which names are present in the folder.
func (s *Store) Exists(ctx context.Context, names []string) (map[string]bool, error) {
	result := make(map[string]bool, len(names))
	if len(names) == 0 {
		return result, nil
	}
	folderID, err := s.resolveFolder(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		result[name] = false
	}
	for start := 0; start < len(names); start += namesPerQuery {
		chunk := names[start:min(start+namesPerQuery, len(names))]
		files, err := s.list(ctx, childQuery(folderID, chunk, false))
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		for _, f := range files {
			if _, ok := result[f.Name]; ok {
				result[f.Name] = true
			}
		}
	}
	return result, nil
}

// Upload stores content under name, replacing any existing document.
func (s *Store) Upload(ctx context.Context, name string, content []byte) (domain.StoredObject, error) {
	folderID, err := s.resolveFolder(ctx)
	if err != nil {
		return domain.StoredObject{}, err
	}
	sum := md5Hex(content)

	staging := name + stagingSuffix
	existing, err := s.list(ctx, childQuery(folderID, []string{name, staging}, false))
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("looking up %s: %w", name, err)
	}

	var finals []*drive.File
	for _, f := range existing {
		if f.Name == staging {
			// Left behind by an interrupted run.
			logger.Debug("removing stale staging file", "name", f.Name, "id", f.Id)
			if err := s.delete(ctx, f.Id); err != nil {
				return domain.StoredObject{}, fmt.Errorf("removing stale staging file: %w", err)
			}
			continue
		}
		finals = append(finals, f)
	}

	if len(finals) > 0 {
		return s.replace(ctx, name, finals, content, sum)
	}
	return s.create(ctx, folderID, name, staging, content, sum)
}

// create uploads under the staging name, verifies it and renames it.
func (s *Store) create(ctx context.Context, folderID, name, staging string, content []byte, sum string) (domain.StoredObject, error) {
	var f *drive.File
	err := s.call(ctx, func() error {
		var err error
		f, err = s.api.Create(ctx, staging, folderID, content)
		return err
	})
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("uploading %s: %w", staging, err)
	}

	if err := verify(f, sum, len(content)); err != nil {
		if derr := s.delete(ctx, f.Id); derr != nil {
			logger.Warn("unverified staging file not removed", "id", f.Id, "error", derr)
		}
		return domain.StoredObject{}, err
	}

	err = s.call(ctx, func() error {
		var err error
		f, err = s.api.Rename(ctx, f.Id, name)
		return err
	})
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("promoting %s: %w", staging, err)
	}

	return domain.StoredObject{Name: name, Location: f.Id, Size: int64(len(content))}, nil
}

// replace writes a new revision of the oldest file and removes duplicates.
func (s *Store) replace(ctx context.Context, name string, finals []*drive.File, content []byte, sum string) (domain.StoredObject, error) {
	target := finals[0]

	var f *drive.File
	err := s.call(ctx, func() error {
		var err error
		f, err = s.api.UpdateContent(ctx, target.Id, content)
		return err
	})
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("replacing %s: %w", name, err)
	}
	if err := verify(f, sum, len(content)); err != nil {
		return domain.StoredObject{}, err
	}

	for _, dup := range finals[1:] {
		logger.Warn("removing duplicate document", "name", name, "id", dup.Id)
		if err := s.delete(ctx, dup.Id); err != nil {
			return domain.StoredObject{}, fmt.Errorf("removing duplicate %s: %w", name, err)
		}
	}

	return domain.StoredObject{Name: name, Location: target.Id, Size: int64(len(content)), Replaced: true}, nil
}

// resolveFolder walks the folder path, creating missing segments.
func (s *Store) resolveFolder(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.folderID != "" {
		return s.folderID, nil
	}

	parentID := rootFolderID
	path := ""
	for _, segment := range strings.Split(s.folder, "/") {
		if segment == "" {
			continue
		}
		path += "/" + segment
		if id, ok := s.folders[path]; ok {
			parentID = id
			continue
		}

		found, err := s.list(ctx, childQuery(parentID, []string{segment}, true))
		if err != nil {
			return "", fmt.Errorf("resolving folder %s: %w", path, err)
		}
		if len(found) > 0 {
			parentID = found[0].Id
		} else {
			var created *drive.File
			err := s.call(ctx, func() error {
				var err error
				created, err = s.api.CreateFolder(ctx, segment, parentID)
				return err
			})
			if err != nil {
				return "", fmt.Errorf("creating folder %s: %w", path, err)
			}
			logger.Info("created drive folder", "path", path, "id", created.Id)
			parentID = created.Id
		}
		s.folders[path] = parentID
	}

	s.folderID = parentID
	return parentID, nil
}

func (s *Store) list(ctx context.Context, query string) ([]*drive.File, error) {
	var files []*drive.File
	err := s.call(ctx, func() error {
		var err error
		files, err = s.api.List(ctx, query)
		return err
	})
	return files, err
}

func (s *Store) delete(ctx context.Context, fileID string) error {
	err := s.call(ctx, func() error {
		return s.api.Delete(ctx, fileID)
	})
	if IsNotFound(err) {
		return nil
	}
	return err
}

// call waits for the rate limiter, runs fn and classifies its error.
func (s *Store) call(ctx context.Context, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	err := fn()
	if err != nil && IsRateLimited(err) {
		s.limiter.RecordRateLimitError(retryAfter(err))
	}
	return WrapError(err)
}

func verify(f *drive.File, sum string, size int) error {
	if f == nil {
		return fmt.Errorf("%w: no file metadata returned", domain.ErrVerificationFailed)
	}
	if f.Md5Checksum != "" && !strings.EqualFold(f.Md5Checksum, sum) {
		return domain.MarkTransient(fmt.Errorf("%w: md5 %s, expected %s",
			domain.ErrVerificationFailed, f.Md5Checksum, sum))
	}
	if f.Size != 0 && f.Size != int64(size) {
		return domain.MarkTransient(fmt.Errorf("%w: size %d, expected %d",
			domain.ErrVerificationFailed, f.Size, size))
	}
	return nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // matches Drive's md5Checksum
	return hex.EncodeToString(sum[:])
}
