package batches

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/application"
	analysissvc "github.com/bryanwahyu/contract-risk/internal/application/analysis"
	"github.com/bryanwahyu/contract-risk/internal/application/chunking"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	domain "github.com/bryanwahyu/contract-risk/internal/domain/batch"
	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/logger"
	"github.com/bryanwahyu/contract-risk/internal/metrics"
)

var batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Service collects photographed pages and turns a complete batch into one
// analysis. Part uploads never bill; Finalize debits exactly once.
type Service struct {
	Repo      domain.Repository
	Ledger    credit.Ledger
	Extractor extraction.Extractor
	Engine    *chunking.Engine
	Analyses  *analysissvc.Service
	Guard     analysis.FlightGuard // optional
	Clock     application.Clock
	Log       *logger.Logger

	Cost         int
	MaxPartBytes int64
}

type PartCommand struct {
	OwnerID   int64
	BatchID   string
	Position  int // 1-based
	Total     int
	Category  string
	Identity  string
	Data      []byte
	FileName  string
	MediaType string
}

// ValidBatchID reports whether id is an acceptable client batch identifier.
func ValidBatchID(id string) bool {
	return batchIDPattern.MatchString(id)
}

// SubmitPart stores one page. The first part fixes category, identity and
// total; re-uploading a position replaces it.
func (s *Service) SubmitPart(ctx context.Context, cmd PartCommand) (domain.Progress, error) {
	c, id, err := analysissvc.ParseParams(cmd.Category, cmd.Identity)
	if err != nil {
		return domain.Progress{}, err
	}
	if !ValidBatchID(cmd.BatchID) {
		return domain.Progress{}, fmt.Errorf("%w: batch_id", domain.ErrInvalidPart)
	}
	if cmd.Total < domain.MinParts || cmd.Total > domain.MaxParts {
		return domain.Progress{}, fmt.Errorf("%w: total must be %d..%d", domain.ErrInvalidPart, domain.MinParts, domain.MaxParts)
	}
	if cmd.Position < 1 || cmd.Position > cmd.Total {
		return domain.Progress{}, fmt.Errorf("%w: idx must be 1..%d", domain.ErrInvalidPart, cmd.Total)
	}
	if len(cmd.Data) == 0 {
		return domain.Progress{}, fmt.Errorf("%w: empty file", analysis.ErrInvalidInput)
	}
	if limit := s.maxPart(); int64(len(cmd.Data)) > limit {
		return domain.Progress{}, fmt.Errorf("%w: max %d bytes", analysis.ErrFileTooLarge, limit)
	}
	name := strings.TrimSpace(cmd.FileName)
	if name == "" {
		name = fmt.Sprintf("page_%d", cmd.Position)
	}
	media, err := s.Extractor.Detect(cmd.MediaType, name)
	if err != nil {
		return domain.Progress{}, err
	}
	if media.Kind != extraction.KindImage {
		return domain.Progress{}, fmt.Errorf("%w: batch parts must be images", extraction.ErrUnsupportedMediaType)
	}

	sess, err := s.Repo.Create(ctx, &domain.Session{
		OwnerID:   cmd.OwnerID,
		BatchID:   cmd.BatchID,
		Category:  c,
		Identity:  id,
		Total:     cmd.Total,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Progress{}, fmt.Errorf("open batch: %w", err)
	}
	if !sess.Matches(c, id, cmd.Total) {
		s.log().Info("batch.part.mismatch", "owner_id", cmd.OwnerID, "batch_id", cmd.BatchID,
			"want_total", sess.Total, "got_total", cmd.Total)
		return domain.Progress{}, domain.ErrParameterMismatch
	}

	if err := s.Repo.UpsertPart(ctx, &domain.Part{
		OwnerID:   cmd.OwnerID,
		BatchID:   cmd.BatchID,
		Position:  cmd.Position,
		Data:      cmd.Data,
		MediaType: media.MediaType,
		FileName:  name,
		CreatedAt: s.now(),
	}); err != nil {
		return domain.Progress{}, fmt.Errorf("store batch part: %w", err)
	}
	metrics.IncrementBatchPartsStored()

	received, err := s.Repo.CountParts(ctx, cmd.OwnerID, cmd.BatchID)
	if err != nil {
		return domain.Progress{}, err
	}
	p := domain.Progress{BatchID: cmd.BatchID, Received: received, Total: sess.Total}
	s.log().Debug("batch.part.stored", "owner_id", cmd.OwnerID, "batch_id", cmd.BatchID,
		"idx", cmd.Position, "received", received, "total", sess.Total)
	return p, nil
}

// Finalize OCRs every page in position order and analyses the joined text
// as one document. The session is gone afterwards, so a second call fails
// with ErrNotFound.
func (s *Service) Finalize(ctx context.Context, owner int64, batchID string) (*analysis.Record, error) {
	if !ValidBatchID(batchID) {
		return nil, fmt.Errorf("%w: batch_id", domain.ErrInvalidPart)
	}
	log := s.log().With("owner_id", owner, "batch_id", batchID)

	release, err := s.acquire(ctx, owner, batchID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.Repo.Get(ctx, owner, batchID)
	if err != nil {
		return nil, err
	}
	if !sess.Complete() {
		return nil, &domain.IncompleteError{Received: sess.Received, Total: sess.Total}
	}
	log.Info("batch.finalize.start", "total", sess.Total)

	remaining, err := s.Ledger.Debit(ctx, owner, s.cost())
	if err != nil {
		if errors.Is(err, credit.ErrInsufficient) {
			metrics.IncrementCreditsDenied()
			log.Info("batch.credit.denied", "error", err)
		}
		return nil, err
	}
	log.Info("batch.credit.debited", "cost", s.cost(), "remaining", remaining)

	start := time.Now()
	parts, err := s.Repo.Parts(ctx, owner, batchID)
	if err != nil {
		return nil, err
	}
	images := make([]extraction.Image, 0, len(parts))
	for _, p := range parts {
		images = append(images, extraction.Image{Data: p.Data, MediaType: p.MediaType})
	}

	raw, ocrErr := s.Extractor.ExtractImages(ctx, images)
	text, err := analysissvc.ExtractedText(log, raw, ocrErr)
	if err != nil {
		log.Error("batch.finalize.failed", "stage", "ocr", "error", err)
		return nil, err
	}
	result, err := s.Engine.Run(ctx, sess.Category, sess.Identity, text)
	if err != nil {
		log.Error("batch.finalize.failed", "stage", "analysis", "error", err)
		return nil, err
	}

	rec := &analysis.Record{
		OwnerID:         owner,
		Category:        sess.Category,
		Identity:        sess.Identity,
		SchemaVersion:   analysis.SchemaVersion,
		Fingerprint:     analysis.FingerprintText(analysis.SchemaVersion, sess.Category, sess.Identity, text),
		OriginalContent: result.SourceText(text),
		Result:          result,
	}
	if err := s.Analyses.Persist(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.Repo.Delete(ctx, owner, batchID); err != nil {
		// the analysis is already stored; the leftover parts are harmless
		log.Error("batch.cleanup.failed", "analysis_id", rec.ID, "error", err)
	}
	metrics.IncrementBatchesFinalized()
	log.Info("batch.finalize.done", "analysis_id", rec.ID, "pages", len(parts),
		"elapsed_ms", time.Since(start).Milliseconds())
	return rec, nil
}

// acquire serialises finalize per batch. A holder that is still working is
// reported as ErrInProgress; only an unreachable guard degrades to unguarded.
func (s *Service) acquire(ctx context.Context, owner int64, batchID string) (func(), error) {
	if s.Guard == nil {
		return func() {}, nil
	}
	release, err := s.Guard.Acquire(ctx, fmt.Sprintf("batch:%d:%s", owner, batchID))
	switch {
	case errors.Is(err, analysis.ErrGuardBusy):
		return nil, fmt.Errorf("%w: %s", domain.ErrInProgress, batchID)
	case err != nil:
		s.log().Warn("batch.guard.unavailable", "error", err)
		return func() {}, nil
	}
	return release, nil
}

func (s *Service) cost() int {
	if s.Cost <= 0 {
		return analysissvc.DefaultCost
	}
	return s.Cost
}

func (s *Service) maxPart() int64 {
	if s.MaxPartBytes <= 0 {
		return analysissvc.DefaultMaxUploadBytes
	}
	return s.MaxPartBytes
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
