// Package processing turns uploaded notes into adjudicated claims in the
// background, a bounded number at a time.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/claimsense/claimsense/internal/domain/billing"
	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/claimrecord"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/domain/notes"
	"github.com/claimsense/claimsense/internal/domain/validation"
	"github.com/claimsense/claimsense/internal/platform/progress"
	"github.com/claimsense/claimsense/internal/platform/reasoning"
)

// TotalSteps is the number of progress steps reported per note.
const TotalSteps = 5

// Step messages, in order.
const (
	StepInitializing = "Initializing workflow and analyzing note structure"
	StepExtracting   = "Extracting diagnoses, procedures, and patient information"
	StepMapping      = "Mapping medical codes and checking NCCI compliance"
	StepValidating   = "Validating claim data and applying fixes"
	StepComplete     = "Claim processing complete"
)

type Config struct {
	MaxConcurrency int
	InterItemDelay time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	ItemTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		InterItemDelay: 5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		ItemTimeout:    120 * time.Second,
	}
}

// ClaimEngine is the billing work done for each note.
type ClaimEngine interface {
	ExtractEntities(ctx context.Context, note string) (coding.Entities, error)
	BuildFromEntities(ent coding.Entities) (claim.Claim, coding.MappingResult)
	Validate(c claim.Claim) validation.Result
	RepairClaim(ctx context.Context, c claim.Claim, result validation.Result) (claim.Claim, validation.Result, error)
	SubmitClaim(c claim.Claim, result *validation.Result) billing.PayerResponse
}

type NoteStore interface {
	Get(id string) (notes.Note, error)
	Update(id string, fn func(*notes.Note)) (notes.Note, error)
	Unfinished() []notes.Note
}

type ClaimStore interface {
	Insert(r claimrecord.Record) error
}

// QueueStatus is a snapshot of the dispatch queue.
type QueueStatus struct {
	Queued     int      `json:"queued"`
	Processing int      `json:"processing"`
	ActiveIDs  []string `json:"active_ids"`
}

type Status struct {
	Initialized    bool        `json:"initialized"`
	WatcherRunning bool        `json:"watcher_running"`
	Queue          QueueStatus `json:"queue"`
}

// Processor runs notes through extraction, coding, validation and
// submission. Notes start in FIFO order while fewer than MaxConcurrency
// slots are busy; a slot stays busy for InterItemDelay after its note ends.
type Processor struct {
	cfg    Config
	notes  NoteStore
	claims ClaimStore
	engine ClaimEngine
	events progress.Publisher
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	queue       []string
	queued      map[string]bool
	inFlight    map[string]bool
	cooling     int
	initialized bool
	stopped     bool
	busy        bool
	idle        chan struct{}
}

func NewProcessor(cfg Config, noteStore NoteStore, claimStore ClaimStore, engine ClaimEngine, events progress.Publisher, logger zerolog.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Processor{
		cfg:      cfg,
		notes:    noteStore,
		claims:   claimStore,
		engine:   engine,
		events:   events,
		logger:   logger.With().Str("component", "processor").Logger(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		queued:   make(map[string]bool),
		inFlight: make(map[string]bool),
		idle:     idle,
	}
}

// -- Lifecycle --

// Start re-enqueues every pending or processing note, oldest first, and
// marks the processor initialized. Later calls do nothing.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	if p.stopped {
		p.mu.Unlock()
		return errors.New("processor stopped")
	}
	p.initialized = true
	p.mu.Unlock()

	recovered := 0
	for _, n := range p.notes.Unfinished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Enqueue(n.ID) {
			recovered++
		}
	}
	p.logger.Info().Int("recovered", recovered).Msg("processor started")
	return nil
}

// Enqueue adds a note to the queue. It returns false when the note is
// already queued or running, or the processor is stopped.
func (p *Processor) Enqueue(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.queued[id] || p.inFlight[id] {
		return false
	}
	p.queue = append(p.queue, id)
	p.queued[id] = true
	p.logger.Debug().Str("note_id", id).Int("queued", len(p.queue)).Msg("note enqueued")
	p.updateIdleLocked()
	p.dispatchLocked()
	return true
}

// Wait blocks until nothing is queued or running.
func (p *Processor) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels running attempts and pending sleeps, drops the queue and
// waits for every worker to return. Interrupted notes keep their stored
// state and are picked up again by the next Start.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, id := range p.queue {
			delete(p.queued, id)
		}
		p.queue = nil
		p.updateIdleLocked()
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("processor stopped")
}

func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := make([]string, 0, len(p.inFlight))
	for id := range p.inFlight {
		active = append(active, id)
	}
	sort.Strings(active)
	return Status{
		Initialized:    p.initialized,
		WatcherRunning: false,
		Queue: QueueStatus{
			Queued:     len(p.queue),
			Processing: len(p.inFlight),
			ActiveIDs:  active,
		},
	}
}

// -- Dispatch --

func (p *Processor) dispatchLocked() {
	for !p.stopped && len(p.queue) > 0 && len(p.inFlight)+p.cooling < p.cfg.MaxConcurrency {
		id := p.queue[0]
		p.queue = p.queue[1:]
		delete(p.queued, id)
		p.inFlight[id] = true
		p.wg.Add(1)
		p.logger.Info().Str("note_id", id).Int("in_flight", len(p.inFlight)).Msg("dispatching note")
		go p.run(id)
	}
}

func (p *Processor) updateIdleLocked() {
	busy := len(p.queue) > 0 || len(p.inFlight) > 0
	switch {
	case busy && !p.busy:
		p.idle = make(chan struct{})
		p.busy = true
	case !busy && p.busy:
		close(p.idle)
		p.busy = false
	}
}

func (p *Processor) run(id string) {
	defer p.wg.Done()
	p.process(id)

	p.mu.Lock()
	delete(p.inFlight, id)
	cool := !p.stopped && p.cfg.InterItemDelay > 0
	if cool {
		p.cooling++
	}
	p.updateIdleLocked()
	p.mu.Unlock()

	if cool {
		p.sleep(p.cfg.InterItemDelay)
		p.mu.Lock()
		p.cooling--
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.dispatchLocked()
	p.mu.Unlock()
}

// sleep waits for d and reports false when the processor stopped first.
func (p *Processor) sleep(d time.Duration) bool {
	if d <= 0 {
		return p.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// -- Per-note run --

// process drives one note to a terminal state, retrying transient failures
// in place with exponential backoff.
func (p *Processor) process(id string) {
	log := p.logger.With().Str("note_id", id).Logger()

	for {
		note, err := p.notes.Update(id, func(n *notes.Note) {
			n.MarkProcessing(p.now().UTC())
		})
		if err != nil {
			log.Error().Err(err).Msg("mark note processing")
			p.publish(id, TotalSteps, "Processing failed: "+err.Error(), progress.StatusError)
			return
		}

		err = p.attempt(note)
		if err == nil {
			return
		}
		if p.ctx.Err() != nil {
			log.Warn().Err(err).Msg("processing interrupted")
			return
		}

		if isRetryable(err) && note.RetryCount < p.cfg.MaxRetries {
			delay := p.cfg.RetryBaseDelay * time.Duration(1<<note.RetryCount)
			attempt := note.RetryCount + 1
			reason := fmt.Sprintf("Retrying in %s (attempt %d/%d): %v", delay, attempt, p.cfg.MaxRetries, err)
			if _, uerr := p.notes.Update(id, func(n *notes.Note) { n.MarkRetry(reason) }); uerr != nil {
				log.Error().Err(uerr).Msg("mark note for retry")
				p.fail(id, uerr)
				return
			}
			log.Warn().Err(err).Dur("delay", delay).Int("attempt", attempt).Msg("transient failure, retrying")
			p.publish(id, 1, reason, progress.StatusProcessing)
			if !p.sleep(delay) {
				return
			}
			continue
		}

		p.fail(id, err)
		return
	}
}

func isRetryable(err error) bool {
	return reasoning.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// attempt runs the workflow once within ItemTimeout.
func (p *Processor) attempt(note notes.Note) error {
	ctx := p.ctx
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.ItemTimeout)
		defer cancel()
	}
	err := p.runWorkflow(ctx, note)
	if err != nil && ctx.Err() == context.DeadlineExceeded && p.ctx.Err() == nil {
		return fmt.Errorf("processing timeout after %s: %w", p.cfg.ItemTimeout, context.DeadlineExceeded)
	}
	return err
}

func (p *Processor) runWorkflow(ctx context.Context, note notes.Note) error {
	p.publish(note.ID, 1, StepInitializing, progress.StatusProcessing)

	p.publish(note.ID, 2, StepExtracting, progress.StatusProcessing)
	ent, err := p.engine.ExtractEntities(ctx, note.Content)
	if err != nil {
		return fmt.Errorf("extract entities: %w", err)
	}

	p.publish(note.ID, 3, StepMapping, progress.StatusProcessing)
	c, mapping := p.engine.BuildFromEntities(ent)
	p.logger.Debug().Str("note_id", note.ID).
		Int("cpt_codes", len(mapping.CPTCodes)).Int("icd_codes", len(mapping.ICDCodes)).
		Msg("codes mapped")

	p.publish(note.ID, 4, StepValidating, progress.StatusProcessing)
	result := p.engine.Validate(c)
	if !result.Valid {
		fixed, fixedResult, err := p.engine.RepairClaim(ctx, c, result)
		switch {
		case err == nil:
			c, result = fixed, fixedResult
		case isRetryable(err):
			return fmt.Errorf("repair claim: %w", err)
		default:
			p.logger.Warn().Err(err).Str("note_id", note.ID).Msg("claim repair failed, submitting as is")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp := p.engine.SubmitClaim(c, &result)
	if err := p.claims.Insert(claimrecord.New(note.ID, note.Filename, c, resp)); err != nil {
		return fmt.Errorf("store claim record: %w", err)
	}
	if _, err := p.notes.Update(note.ID, func(n *notes.Note) {
		n.MarkCompleted(resp.ClaimID, p.now().UTC())
	}); err != nil {
		return fmt.Errorf("mark note completed: %w", err)
	}

	p.publish(note.ID, TotalSteps, StepComplete, progress.StatusCompleted)
	p.logger.Info().Str("note_id", note.ID).Str("claim_id", resp.ClaimID).
		Str("decision", string(resp.Decision)).Msg("note processed")
	return nil
}

func (p *Processor) fail(id string, err error) {
	msg := err.Error()
	if _, uerr := p.notes.Update(id, func(n *notes.Note) {
		n.MarkFailed(msg, p.now().UTC())
	}); uerr != nil {
		p.logger.Error().Err(uerr).Str("note_id", id).Msg("mark note failed")
	}
	p.logger.Error().Err(err).Str("note_id", id).Msg("note processing failed")
	p.publish(id, TotalSteps, "Processing failed: "+msg, progress.StatusError)
}

func (p *Processor) publish(id string, step int, msg string, status progress.Status) {
	if p.events == nil {
		return
	}
	p.events.Publish(id, progress.Event{
		NoteID:     id,
		Step:       step,
		TotalSteps: TotalSteps,
		Message:    msg,
		Status:     status,
		Timestamp:  p.now().UTC(),
	})
}
