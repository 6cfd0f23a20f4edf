package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

type memState struct {
	institutions map[string]repository.Institution
	accounts     map[uuid.UUID]repository.Account
	categories   map[string]repository.Category
	transactions []repository.Transaction
	jobs         map[uuid.UUID]repository.ImportJob
}

func newMemState() *memState {
	return &memState{
		institutions: make(map[string]repository.Institution),
		accounts:     make(map[uuid.UUID]repository.Account),
		categories:   make(map[string]repository.Category),
		jobs:         make(map[uuid.UUID]repository.ImportJob),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.institutions {
		c.institutions[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	c.transactions = append([]repository.Transaction(nil), s.transactions...)
	return c
}

// memRepo implements repository.ImportRepository over a memState.
type memRepo struct {
	mu    *sync.Mutex
	state func() *memState
	hooks *hooks
}

type hooks struct {
	failInsertAfter int // fail the n+1th insert when > 0
	inserts         int
	raceInstitution string
	failBegin       error
	failUpdateJob   error
	progress        []int
}

func (r *memRepo) FindInstitution(_ context.Context, name string) (*repository.Institution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.state().institutions[name]; ok {
		return &inst, nil
	}
	return nil, nil
}

func (r *memRepo) CreateInstitution(_ context.Context, inst *repository.Institution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state()
	if r.hooks.raceInstitution == inst.Name {
		// Another importer wins between our lookup and insert.
		r.hooks.raceInstitution = ""
		st.institutions[inst.Name] = repository.Institution{ID: uuid.New(), Name: inst.Name}
		return repository.ErrConflict
	}
	if _, ok := st.institutions[inst.Name]; ok {
		return repository.ErrConflict
	}
	inst.CreatedAt = time.Now()
	st.institutions[inst.Name] = *inst
	return nil
}

func (r *memRepo) FindAccount(_ context.Context, institutionID uuid.UUID, name, last4 string) (*repository.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.state().accounts {
		if a.InstitutionID != institutionID || a.Name != name {
			continue
		}
		if last4 != "" && (a.AccountNumberLast4 == nil || *a.AccountNumberLast4 != last4) {
			continue
		}
		return &a, nil
	}
	return nil, nil
}

func (r *memRepo) CreateAccount(_ context.Context, acct *repository.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state().accounts[acct.ID] = *acct
	return nil
}

func (r *memRepo) FindCategory(_ context.Context, name string) (*repository.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cat, ok := r.state().categories[name]; ok {
		return &cat, nil
	}
	return nil, nil
}

func (r *memRepo) CreateCategory(_ context.Context, cat *repository.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state()
	if _, ok := st.categories[cat.Name]; ok {
		return repository.ErrConflict
	}
	st.categories[cat.Name] = *cat
	return nil
}

func (r *memRepo) TransactionExists(_ context.Context, accountID uuid.UUID, date time.Time, amountCents int64, description string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.state().transactions {
		if t.AccountID == accountID && t.Date.Equal(date) && t.AmountCents == amountCents && t.Description == description {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) InsertTransaction(_ context.Context, txn *repository.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks.failInsertAfter > 0 && r.hooks.inserts >= r.hooks.failInsertAfter {
		return errors.New("connection reset by peer")
	}
	r.hooks.inserts++
	st := r.state()
	st.transactions = append(st.transactions, *txn)
	return nil
}

func (r *memRepo) CreateJob(_ context.Context, job *repository.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.CreatedAt = time.Now()
	r.state().jobs[job.ID] = *job
	return nil
}

func (r *memRepo) GetJob(_ context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.state().jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return &job, nil
}

func (r *memRepo) UpdateJob(_ context.Context, job *repository.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks.failUpdateJob != nil {
		return r.hooks.failUpdateJob
	}
	st := r.state()
	if _, ok := st.jobs[job.ID]; !ok {
		return repository.ErrJobNotFound
	}
	st.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) UpdateJobProgress(_ context.Context, id uuid.UUID, processedRows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state()
	job, ok := st.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	job.ProcessedRows = processedRows
	st.jobs[id] = job
	r.hooks.progress = append(r.hooks.progress, processedRows)
	return nil
}

func (r *memRepo) ListJobs(_ context.Context, userID *uuid.UUID, limit int) ([]repository.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.ImportJob
	for _, j := range r.state().jobs {
		if userID == nil || j.UserID == *userID {
			out = append(out, j)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListJobsWithErrors(_ context.Context, limit int) ([]repository.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.ImportJob
	for _, j := range r.state().jobs {
		if j.ErrorMessage != nil {
			out = append(out, j)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) JobExists(_ context.Context, filename string, source repository.Source) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.state().jobs {
		if j.Filename == filename && j.Source == source {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListInterruptedJobs(context.Context) ([]repository.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.ImportJob
	for _, j := range r.state().jobs {
		if j.Status == repository.StatusPending || j.Status == repository.StatusProcessing || j.RetryPending() {
			out = append(out, j)
		}
	}
	return out, nil
}

// memStore is the autocommit view. Sessions work on a snapshot that
// replaces the committed state on Commit.
type memStore struct {
	memRepo
	committed *memState
}

func newMemStore() *memStore {
	s := &memStore{committed: newMemState()}
	s.memRepo = memRepo{mu: &sync.Mutex{}, state: func() *memState { return s.committed }, hooks: &hooks{}}
	return s
}

func (s *memStore) BeginSession(context.Context) (repository.Session, error) {
	if s.hooks.failBegin != nil {
		return nil, s.hooks.failBegin
	}
	s.mu.Lock()
	snapshot := s.committed.clone()
	s.mu.Unlock()

	sess := &memSession{store: s, staged: snapshot}
	sess.memRepo = memRepo{mu: s.mu, state: func() *memState { return sess.staged }, hooks: s.hooks}
	return sess, nil
}

type memSession struct {
	memRepo
	store  *memStore
	staged *memState
	done   bool
}

func (s *memSession) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("session closed")
	}
	// Progress written outside the session survives.
	for id, job := range s.staged.jobs {
		if committed, ok := s.store.committed.jobs[id]; ok && committed.ProcessedRows > job.ProcessedRows {
			job.ProcessedRows = committed.ProcessedRows
			s.staged.jobs[id] = job
		}
	}
	s.store.committed = s.staged
	s.done = true
	return nil
}

func (s *memSession) Rollback(context.Context) error {
	s.done = true
	return nil
}

func (s *memStore) transactions() []repository.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.Transaction(nil), s.committed.transactions...)
}

func (s *memStore) institutionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed.institutions)
}

// stubParser returns fixed rows for any file whose name has its suffix.
type stubParser struct {
	name   string
	suffix string
	rows   []plugin.RawRow
	err    error

	// When set, Parse signals entered and waits for release or ctx.
	entered chan struct{}
	release chan struct{}
}

func (p *stubParser) Name() string { return p.name }

func (p *stubParser) Detect(_ context.Context, _ []byte, filename string) bool {
	return len(filename) >= len(p.suffix) && filename[len(filename)-len(p.suffix):] == p.suffix
}

func (p *stubParser) Parse(ctx context.Context, _ []byte, _ string) ([]plugin.RawRow, error) {
	if p.release != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.rows, p.err
}

// recordingCategorizer captures the stage 2 input.
type recordingCategorizer struct {
	mu     sync.Mutex
	inputs []ProcessResult
	err    error
}

func (c *recordingCategorizer) CategorizeImportJob(_ context.Context, in ProcessResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return c.err
}

func (c *recordingCategorizer) calls() []ProcessResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ProcessResult(nil), c.inputs...)
}

type stubInferrer struct {
	calls int
	err   error
	onOK  func()
}

func (i *stubInferrer) InferSchema(context.Context, string, []byte) error {
	i.calls++
	if i.err != nil {
		return i.err
	}
	if i.onOK != nil {
		i.onOK()
	}
	return nil
}

type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	n.subjects = append(n.subjects, subject)
	return nil
}
