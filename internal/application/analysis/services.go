package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/contract-risk/internal/application"
	"github.com/bryanwahyu/contract-risk/internal/application/chunking"
	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	domain "github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/logger"
	"github.com/bryanwahyu/contract-risk/internal/metrics"
)

const (
	DefaultCost           = 1
	DefaultMaxUploadBytes = 50 << 20
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 100
)

// Service implements the single-document use cases: cache lookup, credit
// gate, extraction, chunked analysis, persistence, history and deletion.
// Service holds no request state and is safe for concurrent use.
type Service struct {
	Repo      domain.Repository
	Files     domain.FileStore
	Ledger    credit.Ledger
	Extractor extraction.Extractor
	Engine    *chunking.Engine
	Guard     domain.FlightGuard // optional
	Clock     application.Clock
	Log       *logger.Logger

	Cost           int
	MaxUploadBytes int64
}

//
// ==== COMMANDS ====
//

type TextCommand struct {
	OwnerID  int64
	Category string
	Identity string
	Text     string
}

type FileCommand struct {
	OwnerID   int64
	Category  string
	Identity  string
	Data      []byte
	FileName  string
	MediaType string
}

// OriginalFile is the stored upload of a file-path record.
type OriginalFile struct {
	Data      []byte
	MediaType string
	FileName  string
}

// ParseParams validates category and identity together.
func ParseParams(category, identity string) (domain.Category, domain.Identity, error) {
	c, err := domain.ParseCategory(category)
	if err != nil {
		return "", "", err
	}
	id, err := domain.ParseIdentity(identity)
	if err != nil {
		return "", "", err
	}
	return c, id, nil
}

// SubmitText analyses pasted text, reusing a cached record when the same
// owner already analysed identical content under the current schema.
func (s *Service) SubmitText(ctx context.Context, cmd TextCommand) (*domain.Record, error) {
	c, id, err := ParseParams(cmd.Category, cmd.Identity)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty content", domain.ErrInvalidInput)
	}

	key := domain.CacheKey{
		OwnerID:       cmd.OwnerID,
		Category:      c,
		Identity:      id,
		SchemaVersion: domain.SchemaVersion,
		Fingerprint:   domain.FingerprintText(domain.SchemaVersion, c, id, text),
	}
	return s.resolve(ctx, key, func(ctx context.Context) (*domain.Record, error) {
		result, err := s.Engine.Run(ctx, c, id, text)
		if err != nil {
			return nil, err
		}
		return &domain.Record{OriginalContent: result.SourceText(text), Result: result}, nil
	})
}

// SubmitFile analyses an uploaded PDF, DOCX or image. The cache key is
// derived from the raw bytes so a repeat upload skips extraction entirely.
func (s *Service) SubmitFile(ctx context.Context, cmd FileCommand) (*domain.Record, error) {
	c, id, err := ParseParams(cmd.Category, cmd.Identity)
	if err != nil {
		return nil, err
	}
	if len(cmd.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}
	if limit := s.maxUpload(); int64(len(cmd.Data)) > limit {
		return nil, fmt.Errorf("%w: max %d bytes", domain.ErrFileTooLarge, limit)
	}
	name := strings.TrimSpace(cmd.FileName)
	if name == "" {
		name = "upload"
	}

	// unsupported types are rejected before any credit is touched
	media, err := s.Extractor.Detect(cmd.MediaType, name)
	if err != nil {
		return nil, err
	}

	key := domain.CacheKey{
		OwnerID:       cmd.OwnerID,
		Category:      c,
		Identity:      id,
		SchemaVersion: domain.SchemaVersion,
		Fingerprint:   domain.FingerprintBytes(domain.SchemaVersion, c, id, cmd.Data),
	}
	return s.resolve(ctx, key, func(ctx context.Context) (*domain.Record, error) {
		raw, extractErr := s.Extractor.Extract(ctx, cmd.Data, media)
		text, err := ExtractedText(s.log(), raw, extractErr)
		if err != nil {
			return nil, err
		}
		result, err := s.Engine.Run(ctx, c, id, text)
		if err != nil {
			return nil, err
		}
		ref, err := s.saveFile(ctx, cmd.OwnerID, name, media.MediaType, cmd.Data)
		if err != nil {
			return nil, err
		}
		return &domain.Record{OriginalContent: result.SourceText(text), Result: result, File: ref}, nil
	})
}

// ExtractedText applies the extraction failure policy: oracle and
// cancellation errors abort, anything else (and empty output) becomes the
// explicit failure sentinel.
func ExtractedText(log *logger.Logger, text string, err error) (string, error) {
	if err != nil {
		if ai.IsOracleError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		logger.OrNop(log).Warn("analysis.extract.failed", "error", err)
		text = ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return extraction.FailedSentinel, nil
	}
	return text, nil
}

// resolve runs the cache-miss pipeline behind the credit gate.
func (s *Service) resolve(ctx context.Context, key domain.CacheKey, produce func(context.Context) (*domain.Record, error)) (*domain.Record, error) {
	log := s.log().With("owner_id", key.OwnerID, "category", key.Category, "identity", key.Identity)

	if rec, err := s.lookup(ctx, key); err != nil || rec != nil {
		return rec, err
	}

	release, guarded, busy := s.acquire(ctx, key)
	defer release()
	if guarded || busy != nil {
		// another instance may have finished while we waited for the lock
		if rec, err := s.lookup(ctx, key); err != nil || rec != nil {
			return rec, err
		}
	}
	if busy != nil {
		return nil, busy
	}
	metrics.IncrementCacheMisses()

	remaining, err := s.Ledger.Debit(ctx, key.OwnerID, s.cost())
	if err != nil {
		if errors.Is(err, credit.ErrInsufficient) {
			metrics.IncrementCreditsDenied()
			log.Info("analysis.credit.denied", "error", err)
		}
		return nil, err
	}
	log.Info("analysis.credit.debited", "cost", s.cost(), "remaining", remaining)

	start := time.Now()
	rec, err := produce(ctx)
	if err != nil {
		// credit already spent for this attempt is not refunded
		log.Error("analysis.pipeline.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	rec.OwnerID = key.OwnerID
	rec.Category = key.Category
	rec.Identity = key.Identity
	rec.SchemaVersion = key.SchemaVersion
	rec.Fingerprint = key.Fingerprint

	if err := s.Persist(ctx, rec); err != nil {
		return nil, err
	}
	log.Info("analysis.pipeline.done", "analysis_id", rec.ID, "score", rec.Result.Score,
		"clauses", len(rec.Result.Clauses), "elapsed_ms", time.Since(start).Milliseconds())
	return rec, nil
}

func (s *Service) lookup(ctx context.Context, key domain.CacheKey) (*domain.Record, error) {
	rec, err := s.Repo.Lookup(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	metrics.IncrementCacheHits()
	s.log().Info("analysis.cache.hit", "owner_id", key.OwnerID, "analysis_id", rec.ID)

	if strings.TrimSpace(rec.DisplayName) == "" {
		name, err := s.nextLabel(ctx, rec.OwnerID, rec.Category)
		if err != nil {
			return nil, err
		}
		written, err := s.Repo.SetDisplayName(ctx, rec.OwnerID, rec.ID, name)
		if err != nil {
			return nil, fmt.Errorf("backfill display name: %w", err)
		}
		if written {
			rec.DisplayName = name
		} else {
			// another request labelled it first; return what is stored
			stored, err := s.Repo.Get(ctx, rec.OwnerID, rec.ID)
			if err != nil {
				return nil, fmt.Errorf("reload display name: %w", err)
			}
			rec.DisplayName = stored.DisplayName
		}
	}
	return rec, nil
}

// Persist assigns the display label and creation time, then appends the
// record. The uploaded file is removed again if the insert fails.
func (s *Service) Persist(ctx context.Context, rec *domain.Record) error {
	name, err := s.nextLabel(ctx, rec.OwnerID, rec.Category)
	if err != nil {
		s.discardFile(ctx, rec.File)
		return err
	}
	rec.DisplayName = name
	rec.CreatedAt = s.now()
	if rec.Result.Clauses == nil {
		rec.Result.Clauses = []domain.Clause{}
	}
	if err := s.Repo.Store(ctx, rec); err != nil {
		s.discardFile(ctx, rec.File)
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

// nextLabel counts existing rows; concurrent inserts for the same category
// may produce the same sequence number.
func (s *Service) nextLabel(ctx context.Context, owner int64, c domain.Category) (string, error) {
	n, err := s.Repo.CountByCategory(ctx, owner, c)
	if err != nil {
		return "", fmt.Errorf("count analyses: %w", err)
	}
	return domain.DisplayLabel(c, n+1), nil
}

func (s *Service) saveFile(ctx context.Context, owner int64, name, mediaType string, data []byte) (*domain.FileRef, error) {
	if s.Files == nil {
		return nil, nil
	}
	key := fmt.Sprintf("analyses/%d/%s%s", owner, uuid.NewString(), strings.ToLower(filepath.Ext(name)))
	if err := s.Files.Put(ctx, key, data, mediaType); err != nil {
		return nil, fmt.Errorf("store original file: %w", err)
	}
	return &domain.FileRef{Key: key, Name: name, MediaType: mediaType, Size: int64(len(data))}, nil
}

func (s *Service) discardFile(ctx context.Context, ref *domain.FileRef) {
	if ref == nil || ref.Key == "" || s.Files == nil {
		return
	}
	if err := s.Files.Delete(ctx, ref.Key); err != nil {
		s.log().Warn("analysis.file.cleanup_failed", "key", ref.Key, "error", err)
	}
}

//
// ==== QUERIES & DELETION ====
//

// ListHistory returns the newest records first.
func (s *Service) ListHistory(ctx context.Context, owner int64, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.Repo.List(ctx, owner, limit)
}

func (s *Service) Get(ctx context.Context, owner, id int64) (*domain.Record, error) {
	return s.Repo.Get(ctx, owner, id)
}

// DeleteOne removes the record and its stored original file.
func (s *Service) DeleteOne(ctx context.Context, owner, id int64) error {
	rec, err := s.Repo.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.discardFile(ctx, rec.File)
	s.log().Info("analysis.deleted", "owner_id", owner, "analysis_id", id)
	return nil
}

// DeleteAll wipes every record of the owner and returns how many were removed.
func (s *Service) DeleteAll(ctx context.Context, owner int64) (int64, error) {
	n, keys, err := s.Repo.DeleteAll(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		s.discardFile(ctx, &domain.FileRef{Key: k})
	}
	s.log().Info("analysis.deleted_all", "owner_id", owner, "deleted", n, "files", len(keys))
	return n, nil
}

// FetchOriginalFile returns the upload behind a file-path record.
func (s *Service) FetchOriginalFile(ctx context.Context, owner, id int64) (*OriginalFile, error) {
	rec, err := s.Repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if !rec.HasFile() || s.Files == nil {
		return nil, domain.ErrNoFile
	}
	data, err := s.Files.Get(ctx, rec.File.Key)
	if err != nil {
		return nil, fmt.Errorf("read original file: %w", err)
	}
	mt := rec.File.MediaType
	if mt == "" {
		mt = "application/octet-stream"
	}
	name := rec.File.Name
	if name == "" {
		name = fmt.Sprintf("analysis_%d", id)
	}
	return &OriginalFile{Data: data, MediaType: mt, FileName: name}, nil
}

//
// ==== HELPERS ====
//

// acquire reports guarded=false when no guard is usable. busy is set when a
// holder kept the key for the whole wait.
func (s *Service) acquire(ctx context.Context, key domain.CacheKey) (release func(), guarded bool, busy error) {
	if s.Guard == nil {
		return func() {}, false, nil
	}
	release, err := s.Guard.Acquire(ctx, fmt.Sprintf("analysis:%d:%s", key.OwnerID, key.Fingerprint))
	switch {
	case errors.Is(err, domain.ErrGuardBusy):
		return func() {}, false, err
	case err != nil:
		s.log().Warn("analysis.guard.unavailable", "error", err)
		return func() {}, false, nil
	}
	return release, true, nil
}

func (s *Service) cost() int {
	if s.Cost <= 0 {
		return DefaultCost
	}
	return s.Cost
}

func (s *Service) maxUpload() int64 {
	if s.MaxUploadBytes <= 0 {
		return DefaultMaxUploadBytes
	}
	return s.MaxUploadBytes
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) log() *logger.Logger {
	return logger.OrNop(s.Log)
}
