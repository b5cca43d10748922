package opstream

import (
	"context"
	"net/http"

	httpAdapter "github.com/bft-labs/opstream/internal/adapters/http"
	"github.com/bft-labs/opstream/internal/adapters/sqlite"
	"github.com/bft-labs/opstream/internal/adapters/token"
	"github.com/bft-labs/opstream/internal/adapters/ws"
	"github.com/bft-labs/opstream/internal/app"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/metrics"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// Stream is the delta stream of one document. Use New to create one.
type Stream struct {
	*app.DeltaManager

	config      Config
	logger      log.Logger
	archive     *sqlite.Archive
	ownsArchive bool
}

// New creates a stream. Nothing is opened until Connect or AttachHandler is
// called. It returns an error wrapping ErrInvalidConfig when cfg is invalid.
func New(cfg Config, opts ...Option) (*Stream, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	appCfg := cfg.appConfig()
	if err := appCfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.validateWiring(&o); err != nil {
		return nil, err
	}

	logger := log.OrNoop(o.logger).With(
		log.String("tenantId", cfg.TenantID),
		log.String("documentId", cfg.DocumentID),
	)

	tokens := o.tokens
	if tokens == nil && cfg.TenantKey != "" {
		tokens = token.NewInsecureProvider(cfg.TenantKey, domain.User{ID: cfg.UserID})
	}

	connections := o.connections
	if connections == nil {
		connections = ws.NewProvider(ws.Config{
			URL:        cfg.ServiceURL,
			TenantID:   cfg.TenantID,
			DocumentID: cfg.DocumentID,
		}, tokens, logger)
	}

	s := &Stream{config: cfg, logger: logger, archive: o.archive}
	if s.archive == nil && cfg.ArchivePath != "" {
		a, err := sqlite.Open(cfg.ArchivePath, cfg.TenantID, cfg.DocumentID)
		if err != nil {
			return nil, err
		}
		s.archive = a
		s.ownsArchive = true
	}

	storage := o.storage
	if storage == nil && cfg.StorageURL != "" {
		client := o.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		storage = httpAdapter.NewDeltaStorage(httpAdapter.Config{
			BaseURL:    cfg.StorageURL,
			TenantID:   cfg.TenantID,
			DocumentID: cfg.DocumentID,
		}, client, tokens, logger)
	}
	switch {
	case s.archive != nil && storage != nil:
		storage = sqlite.NewReadThrough(s.archive, storage, logger)
	case s.archive != nil:
		storage = s.archive
	}

	s.DeltaManager = app.New(appCfg, app.Deps{
		Connections: connections,
		Storage:     storage,
		Logger:      logger,
		Clock:       o.clock,
		Metrics:     metrics.New(o.registerer),
		PrepareSend: o.prepareSend,
	})
	for _, h := range o.handlers {
		s.Subscribe(h)
	}
	return s, nil
}

// Config returns the configuration with defaults applied.
func (s *Stream) Config() Config { return s.config }

// AttachHandler starts delivering ops after seq to h. With an archive
// every processed op is archived first.
func (s *Stream) AttachHandler(minSeq, seq int64, h Handler) error {
	if s.archive != nil {
		h = &archivingHandler{next: h, archive: s.archive, logger: s.logger}
	}
	return s.DeltaManager.AttachHandler(minSeq, seq, h)
}

// Close shuts the stream down and releases the archive it opened.
func (s *Stream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError shuts the stream down, reporting err to observers.
func (s *Stream) CloseWithError(err error) error {
	s.DeltaManager.Close(err)
	if s.ownsArchive {
		return s.archive.Close()
	}
	return nil
}

// Checkpoint returns the position to resume from.
func (s *Stream) Checkpoint() Checkpoint {
	return Checkpoint{
		TenantID:              s.config.TenantID,
		DocumentID:            s.config.DocumentID,
		SequenceNumber:        s.ReferenceSequenceNumber(),
		MinimumSequenceNumber: s.MinimumSequenceNumber(),
	}
}

type archivingHandler struct {
	next    ports.Handler
	archive *sqlite.Archive
	logger  log.Logger
}

func (h *archivingHandler) Process(msg *domain.SequencedMessage) (ports.ProcessResult, error) {
	if err := h.archive.Append(context.Background(), *msg); err != nil {
		// Archiving is best effort; the op is still delivered.
		h.logger.Warn("archive op failed", log.Int64("sequenceNumber", msg.SequenceNumber), log.Err(err))
	}
	return h.next.Process(msg)
}

func (h *archivingHandler) ProcessSignal(sig domain.Signal) error {
	return h.next.ProcessSignal(sig)
}
