package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// Key identifies one client's record for one service.
type Key struct {
	ClientID string
	Service  string
}

func (k Key) String() string { return k.Service + "/" + k.ClientID }

// Progress is the read model served to polling clients.
type Progress struct {
	CurrentFile    string      `json:"current_file"`
	CurrentPage    int         `json:"current_page"`
	TotalPages     int         `json:"total_pages"`
	Status         jobs.Status `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	TotalFiles     int         `json:"total_files"`
	ProcessedFiles int         `json:"processed_files"`
	FailedFiles    int         `json:"failed_files"`
	Canceling      bool        `json:"is_canceling"`
}

// Record is the mutable job state of one (client, service) pair. It is only
// touched while the owning State's lock is held.
type Record struct {
	Canceling      bool
	TotalFiles     int
	ProcessedFiles int
	FailedFiles    int
	CurrentFile    string
	CurrentPage    int
	TotalPages     int
	Status         jobs.Status
	Reason         string

	// TerminalSince is when a reader first observed the current terminal
	// status. Zero until observed.
	TerminalSince time.Time
}

// Progress projects r onto the read model.
func (r *Record) Progress() Progress {
	return Progress{
		CurrentFile:    r.CurrentFile,
		CurrentPage:    r.CurrentPage,
		TotalPages:     r.TotalPages,
		Status:         r.Status,
		Reason:         r.Reason,
		TotalFiles:     r.TotalFiles,
		ProcessedFiles: r.ProcessedFiles,
		FailedFiles:    r.FailedFiles,
		Canceling:      r.Canceling,
	}
}

// ResetIdle clears counters and progress. The cancel flag is left alone so
// workers of a canceled batch still see it.
func (r *Record) ResetIdle() {
	r.TotalFiles, r.ProcessedFiles, r.FailedFiles = 0, 0, 0
	r.CurrentFile, r.CurrentPage, r.TotalPages = "", 0, 0
	r.Status, r.Reason = jobs.StatusIdle, ""
	r.TerminalSince = time.Time{}
}

func (r *Record) setStatus(to jobs.Status) bool {
	if !jobs.CanTransition(r.Status, to) {
		return false
	}
	if r.Status != to {
		r.TerminalSince = time.Time{}
	}
	r.Status = to
	return true
}

// Batch is the handle a dispatcher holds for one submitted batch.
type Batch struct {
	// Seq orders batches within one State; only the newest batch reports
	// into the record.
	Seq uint64
	// Ctx is canceled by RequestCancel or by process shutdown. It is the
	// cancellation token handed to every stage of every job in the batch.
	Ctx context.Context
}

// State guards one Record plus the cancel handles of its in-flight batches.
type State struct {
	key Key

	mu      sync.Mutex
	rec     Record
	seq     uint64
	running map[uint64]context.CancelFunc
}

func newState(key Key) *State {
	return &State{
		key:     key,
		rec:     Record{Status: jobs.StatusIdle},
		running: make(map[uint64]context.CancelFunc),
	}
}

// Key returns the identity of this state.
func (s *State) Key() Key { return s.key }

// BeginBatch resets the record for a new batch of total files and returns
// its cancellation handle, derived from parent.
func (s *State) BeginBatch(parent context.Context, total int) (Batch, error) {
	if total <= 0 {
		return Batch{}, fmt.Errorf("batch must contain at least one file")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rec.setStatus(jobs.StatusQueued) {
		return Batch{}, fmt.Errorf("cannot queue batch from status %s", s.rec.Status)
	}
	s.rec.Canceling = false
	s.rec.TotalFiles = total
	s.rec.ProcessedFiles, s.rec.FailedFiles = 0, 0
	s.rec.CurrentFile, s.rec.CurrentPage, s.rec.TotalPages = "", 0, 0
	s.rec.Reason = ""

	s.seq++
	ctx, cancel := context.WithCancel(parent)
	s.running[s.seq] = cancel
	return Batch{Seq: s.seq, Ctx: ctx}, nil
}

// EndBatch drops the cancel handle of a batch whose workers have all returned.
func (s *State) EndBatch(seq uint64) {
	s.mu.Lock()
	cancel, ok := s.running[seq]
	delete(s.running, seq)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel flags the record as canceling, cancels every in-flight batch and
// resets progress immediately. It returns the number of batches signaled.
func (s *State) Cancel() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.running)
	for _, cancel := range s.running {
		cancel()
	}
	s.rec.Canceling = true
	s.rec.ResetIdle()
	s.rec.setStatus(jobs.StatusCanceled)
	return n
}

// Active reports whether any batch still has workers running.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running) > 0
}

// IsCanceling reports the cancel flag.
func (s *State) IsCanceling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Canceling
}

// current reports whether seq may still write progress.
func (s *State) currentLocked(seq uint64) bool {
	return seq == s.seq && !s.rec.Canceling
}

// StartJob marks a file of batch seq as processing.
func (s *State) StartJob(seq uint64, filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(seq) || !s.rec.setStatus(jobs.StatusProcessing) {
		return false
	}
	s.rec.CurrentFile = filename
	return true
}

// AddPages grows the sub-unit total, accumulating across parallel files.
func (s *State) AddPages(seq uint64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentLocked(seq) && n > 0 {
		s.rec.TotalPages += n
	}
}

// PageDone advances the sub-unit counter.
func (s *State) PageDone(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentLocked(seq) && s.rec.CurrentPage < s.rec.TotalPages {
		s.rec.CurrentPage++
	}
}

// FinishJob records the outcome of one file. When the last file of the
// batch finishes, the record moves to Completed, or to Failed if any file
// failed. It returns the resulting status, or "" if the update was dropped
// because the batch was superseded or canceled.
func (s *State) FinishJob(seq uint64, err error) jobs.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(seq) {
		return ""
	}
	if s.rec.ProcessedFiles+s.rec.FailedFiles >= s.rec.TotalFiles {
		return ""
	}

	if err != nil {
		s.rec.FailedFiles++
		s.rec.Reason = jobs.Reason(err)
	} else {
		s.rec.ProcessedFiles++
	}

	if s.rec.ProcessedFiles+s.rec.FailedFiles < s.rec.TotalFiles {
		return s.rec.Status
	}

	if s.rec.FailedFiles == 0 {
		s.rec.setStatus(jobs.StatusCompleted)
		s.rec.CurrentFile = ""
		return s.rec.Status
	}
	if s.rec.TotalFiles > 1 {
		s.rec.Reason = fmt.Sprintf("%d of %d files failed: %s", s.rec.FailedFiles, s.rec.TotalFiles, s.rec.Reason)
	}
	s.rec.setStatus(jobs.StatusFailed)
	return s.rec.Status
}

// Snapshot returns the current progress without applying any read policy.
func (s *State) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Progress()
}

// View runs fn with the record locked. Read policies use it to apply
// reset-on-read semantics atomically with the read.
func (s *State) View(fn func(rec *Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.rec)
}
