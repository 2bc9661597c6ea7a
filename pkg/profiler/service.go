package profiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/common/models"
	"github.com/synaptica-ai/vendorshape/pkg/configstore"
	"github.com/synaptica-ai/vendorshape/pkg/crossmap"
	"github.com/synaptica-ai/vendorshape/pkg/inference"
	"github.com/synaptica-ai/vendorshape/pkg/observability/metrics"
	"github.com/synaptica-ai/vendorshape/pkg/semantic"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/validation"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

var ErrCancelled = errors.New("profiling cancelled")

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, key string, data map[string]interface{}) error
}

type Dependencies struct {
	Validator *Validator
	Analyzer  *analysis.Analyzer
	Inferrer  *inference.Inferrer
	Store     configstore.Store
	Planner   *validation.Planner
	Resolver  *semantic.Resolver
	Mapper    *crossmap.Mapper
	// Publisher is optional; saved configurations are announced when it is set.
	Publisher     EventPublisher
	MinConfidence float64
}

// Service runs sample batches through analysis, inference and storage, and answers
// lookups against stored configurations and the reference tables.
type Service struct {
	validator     *Validator
	analyzer      *analysis.Analyzer
	inferrer      *inference.Inferrer
	store         configstore.Store
	planner       *validation.Planner
	resolver      *semantic.Resolver
	mapper        *crossmap.Mapper
	publisher     EventPublisher
	minConfidence float64
}

func NewService(deps Dependencies) *Service {
	if deps.Validator == nil {
		deps.Validator = NewValidator(0)
	}
	if deps.MinConfidence <= 0 || deps.MinConfidence > 1 {
		deps.MinConfidence = analysis.DefaultMinConfidence
	}
	return &Service{
		validator:     deps.Validator,
		analyzer:      deps.Analyzer,
		inferrer:      deps.Inferrer,
		store:         deps.Store,
		planner:       deps.Planner,
		resolver:      deps.Resolver,
		mapper:        deps.Mapper,
		publisher:     deps.Publisher,
		minConfidence: deps.MinConfidence,
	}
}

// ProfileResult is returned for every stored configuration.
type ProfileResult struct {
	RunID         string                            `json:"runId"`
	Ref           string                            `json:"ref"`
	Configuration *vendorconfig.VendorConfiguration `json:"configuration"`
	Warnings      []analysis.ParseWarning           `json:"warnings,omitempty"`
	Timestamp     time.Time                         `json:"timestamp"`
}

// Profile analyses a batch, infers the vendor configuration and stores it as the next
// version of its address. A batch with FileName set is also written as a named copy.
func (s *Service) Profile(ctx context.Context, batch models.SampleBatch) (*ProfileResult, error) {
	if err := s.validator.Validate(batch); err != nil {
		return nil, err
	}
	runID := uuid.New().String()
	minConfidence := s.minConfidence
	if batch.MinConfidence != nil {
		minConfidence = *batch.MinConfidence
	}

	res, err := s.analyzer.Analyze(ctx, samples(batch), analysis.Options{
		MinConfidence: minConfidence,
		SampleLimit:   batch.SampleLimit,
		Seed:          batch.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("analysing samples: %w", err)
	}
	metrics.ObserveAnalysis(res.Parsed, res.Skipped, res.Cancelled)
	if res.Cancelled {
		return nil, fmt.Errorf("%w after %d of %d samples: %v", ErrCancelled, res.Parsed+res.Skipped, res.Total, ctx.Err())
	}

	cfg, err := s.inferrer.Infer(inference.InputFromResult(res, strings.TrimSpace(batch.Vendor)), inference.Options{MinConfidence: minConfidence})
	if err != nil {
		return nil, fmt.Errorf("inferring configuration: %w", err)
	}
	metrics.ObserveInference(cfg.Metadata.LowConfidence)

	ref, saved, err := s.save(ctx, cfg, strings.TrimSpace(batch.FileName))
	metrics.ObserveSave(err)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"run_id":     runID,
		"address":    saved.Address.String(),
		"version":    saved.Metadata.Version,
		"confidence": saved.Metadata.Confidence,
		"parsed":     res.Parsed,
		"skipped":    res.Skipped,
	}).Info("Vendor configuration profiled")

	s.announce(ctx, runID, ref, saved)

	return &ProfileResult{
		RunID:         runID,
		Ref:           ref,
		Configuration: saved,
		Warnings:      res.Warnings,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// save stores cfg and returns the version that was written.
func (s *Service) save(ctx context.Context, cfg *vendorconfig.VendorConfiguration, name string) (string, *vendorconfig.VendorConfiguration, error) {
	if name != "" {
		ref, saved, err := s.store.SaveAs(ctx, cfg, name)
		if err != nil {
			return "", nil, fmt.Errorf("saving configuration as %s: %w", name, err)
		}
		return ref, saved, nil
	}
	ref, err := s.store.Save(ctx, cfg)
	if err != nil {
		return "", nil, fmt.Errorf("saving configuration: %w", err)
	}
	saved, err := s.store.Load(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("reloading saved configuration: %w", err)
	}
	return ref, saved, nil
}

// announce publishes a configuration.saved event. The configuration is already stored, so
// a publish failure is logged and not returned.
func (s *Service) announce(ctx context.Context, runID, ref string, cfg *vendorconfig.VendorConfiguration) {
	if s.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"run_id":         runID,
		"address":        cfg.Address.String(),
		"vendor":         cfg.Address.Vendor,
		"standard":       string(cfg.Address.Standard),
		"message_type":   cfg.Address.MessageType,
		"version":        cfg.Metadata.Version,
		"ref":            ref,
		"confidence":     cfg.Metadata.Confidence,
		"low_confidence": cfg.Metadata.LowConfidence,
		"fingerprint":    cfg.Fingerprint(),
	}
	if err := s.publisher.PublishEvent(ctx, models.EventConfigurationSet, cfg.Address.String(), payload); err != nil {
		logger.Log.WithError(err).WithField("address", cfg.Address.String()).Warn("failed to publish configuration event")
	}
}

func (s *Service) Configuration(ctx context.Context, ref string) (*vendorconfig.VendorConfiguration, error) {
	return s.store.Load(ctx, ref)
}

func (s *Service) Versions(ctx context.Context, address string) ([]configstore.VersionInfo, error) {
	addr, err := vendorconfig.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return s.store.Versions(ctx, addr)
}

func (s *Service) List(ctx context.Context, filter configstore.Filter) ([]*vendorconfig.VendorConfiguration, error) {
	return s.store.List(ctx, filter)
}

// Compare loads two references and diffs them.
func (s *Service) Compare(ctx context.Context, left, right string, tolerance float64) (*vendorconfig.ComparisonResult, error) {
	l, err := s.store.Load(ctx, left)
	if err != nil {
		return nil, err
	}
	r, err := s.store.Load(ctx, right)
	if err != nil {
		return nil, err
	}
	return vendorconfig.Compare(l, r, vendorconfig.CompareOptions{Tolerance: tolerance}), nil
}

// ValidationPlan loads a configuration and decides the validation mode of its fields.
func (s *Service) ValidationPlan(ctx context.Context, ref string, threshold float64) (*validation.Report, error) {
	cfg, err := s.store.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	opts := validation.DefaultOptions()
	if threshold > 0 {
		opts.SparseThreshold = threshold
	}
	return s.planner.Plan(cfg, opts), nil
}

type Resolution struct {
	Path        string             `json:"path"`
	MessageType string             `json:"messageType"`
	Standard    standards.Standard `json:"standard,omitempty"`
	Field       string             `json:"field"`
}

func (s *Service) Resolve(ctx context.Context, path, messageType, standard string) (*Resolution, error) {
	std, err := parseOptionalStandard(standard)
	if err != nil {
		return nil, err
	}
	field, err := s.resolver.Resolve(ctx, path, messageType, std)
	if err != nil {
		return nil, err
	}
	if std == standards.Unknown {
		std = standards.ForMessageType(messageType)
	}
	canonical, _ := semantic.CanonicalPath(path)
	return &Resolution{Path: canonical, MessageType: messageType, Standard: std, Field: field}, nil
}

func (s *Service) AvailablePaths(messageType, standard string) (map[string]string, error) {
	std, err := parseOptionalStandard(standard)
	if err != nil {
		return nil, err
	}
	return s.resolver.ListAvailable(messageType, std), nil
}

func (s *Service) MapField(fieldPath, standard string) (*crossmap.CrossStandardMapping, error) {
	std, err := parseOptionalStandard(standard)
	if err != nil {
		return nil, err
	}
	return s.mapper.MapAcrossStandards(fieldPath, std)
}

// SearchQuery selects one of the field search modes; the first non-empty of
// SemanticPath, Pattern and Text wins.
type SearchQuery struct {
	SemanticPath string
	Pattern      string
	PatternType  string
	Standard     string
	Text         string
}

func (s *Service) Search(ctx context.Context, q SearchQuery) (*crossmap.FieldSearchResult, error) {
	switch {
	case strings.TrimSpace(q.SemanticPath) != "":
		return s.mapper.FindBySemanticPath(q.SemanticPath)
	case strings.TrimSpace(q.Pattern) != "":
		kind, err := crossmap.ParsePatternType(q.PatternType)
		if err != nil {
			return nil, err
		}
		std, err := parseOptionalStandard(q.Standard)
		if err != nil {
			return nil, err
		}
		return s.mapper.FindByPattern(q.Pattern, kind, std)
	case strings.TrimSpace(q.Text) != "":
		return s.mapper.FindBySemantic(ctx, q.Text)
	}
	return nil, ValidationError{reason: errors.New("one of path, pattern or q is required")}
}

func parseOptionalStandard(s string) (standards.Standard, error) {
	if strings.TrimSpace(s) == "" {
		return standards.Unknown, nil
	}
	return standards.ParseStandard(s)
}
