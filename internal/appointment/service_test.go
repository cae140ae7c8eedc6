package appointment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-availability/internal/redis"
)

// memRepo is a goroutine-safe Repository backed by a map.
type memRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	events       []EventLog

	listErr   error
	listDelay time.Duration
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{appointments: make(map[uuid.UUID]*Appointment)}
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListActiveAt(_ context.Context, clinicID uuid.UUID, startAt time.Time) ([]Appointment, error) {
	if r.listDelay > 0 {
		time.Sleep(r.listDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Appointment
	for _, a := range r.appointments {
		if a.ClinicID == clinicID && a.StartAt.Equal(startAt) && a.Status.Active() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) CreatePendingAppointment(_ context.Context, req BookingRequest) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	a := &Appointment{
		ID:              uuid.New(),
		ClinicID:        req.ClinicID,
		ProfessionalID:  req.ProfessionalID,
		PatientID:       req.PatientID,
		StartAt:         req.StartAt,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusPending,
	}
	r.appointments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListForCalendar(_ context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ClinicID != clinicID || a.Status == StatusCancelled {
			continue
		}
		if a.StartAt.Before(from) || !a.StartAt.Before(to) {
			continue
		}
		if professionalID != nil && (a.ProfessionalID == nil || *a.ProfessionalID != *professionalID) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *memRepo) FindConfirmedEndedBefore(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.EndAt().Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

// mutexLocker blocks per key, like a lock with a generous wait.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *mutexLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type failingLocker struct{ err error }

func (l failingLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return l.err
}

type stubChecker struct{ err error }

func (c stubChecker) CheckSlot(context.Context, uuid.UUID, *uuid.UUID, time.Time) error {
	return c.err
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []time.Time
}

func (r *recordingInvalidator) Invalidate(_ context.Context, _ uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, at)
	return nil
}

var testNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

func newTestService(repo Repository, locker redisclient.Locker, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(repo, locker, zerolog.New(io.Discard), opts...)
}

func bookingAt(clinicID uuid.UUID, professionalID *uuid.UUID, start time.Time) BookingRequest {
	return BookingRequest{
		ClinicID:       clinicID,
		ProfessionalID: professionalID,
		PatientID:      uuid.New(),
		StartAt:        start,
	}
}

func TestBookSlot_CreatesPending(t *testing.T) {
	repo := newMemRepo()
	inv := &recordingInvalidator{}
	svc := newTestService(repo, newMutexLocker(), WithInvalidator(inv))

	clinic := uuid.New()
	p1 := uuid.New()
	start := testNow.Add(time.Hour)

	appt, err := svc.BookSlot(context.Background(), bookingAt(clinic, &p1, start))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, DefaultDurationMinutes, appt.DurationMinutes)
	assert.Equal(t, &p1, appt.ProfessionalID)
	assert.Len(t, inv.calls, 1)
	require.Len(t, repo.events, 1)
	assert.Equal(t, EventAppointmentCreated, repo.events[0].EventType)
}

func TestBookSlot_Validation(t *testing.T) {
	svc := newTestService(newMemRepo(), newMutexLocker())
	ctx := context.Background()

	_, err := svc.BookSlot(ctx, BookingRequest{ClinicID: uuid.New(), StartAt: testNow.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.BookSlot(ctx, BookingRequest{ClinicID: uuid.New(), PatientID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := bookingAt(uuid.New(), nil, testNow.Add(time.Hour))
	req.DurationMinutes = -30
	_, err = svc.BookSlot(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.BookSlot(ctx, bookingAt(uuid.New(), nil, testNow.Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookSlot_ConflictSameProfessional(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, newMutexLocker())
	ctx := context.Background()

	clinic := uuid.New()
	p1 := uuid.New()
	start := testNow.Add(time.Hour)

	_, err := svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
	require.NoError(t, err)

	_, err = svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, repo.count())
}

func TestBookSlot_SharedResourceSemantics(t *testing.T) {
	ctx := context.Background()
	clinic := uuid.New()
	p1 := uuid.New()
	p2 := uuid.New()
	start := testNow.Add(time.Hour)

	t.Run("different professionals do not collide", func(t *testing.T) {
		svc := newTestService(newMemRepo(), newMutexLocker())
		_, err := svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
		require.NoError(t, err)
		_, err = svc.BookSlot(ctx, bookingAt(clinic, &p2, start))
		assert.NoError(t, err)
	})

	t.Run("unassigned booking blocks every professional", func(t *testing.T) {
		svc := newTestService(newMemRepo(), newMutexLocker())
		_, err := svc.BookSlot(ctx, bookingAt(clinic, nil, start))
		require.NoError(t, err)
		_, err = svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unassigned booking collides with an assigned one", func(t *testing.T) {
		svc := newTestService(newMemRepo(), newMutexLocker())
		_, err := svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
		require.NoError(t, err)
		_, err = svc.BookSlot(ctx, bookingAt(clinic, nil, start))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("other clinic is independent", func(t *testing.T) {
		svc := newTestService(newMemRepo(), newMutexLocker())
		_, err := svc.BookSlot(ctx, bookingAt(clinic, nil, start))
		require.NoError(t, err)
		_, err = svc.BookSlot(ctx, bookingAt(uuid.New(), nil, start))
		assert.NoError(t, err)
	})
}

func TestBookSlot_ConcurrentWritersExactlyOneWins(t *testing.T) {
	run := func(t *testing.T, locker redisclient.Locker) {
		repo := newMemRepo()
		svc := newTestService(repo, locker)

		clinic := uuid.New()
		p1 := uuid.New()
		start := testNow.Add(2 * time.Hour)

		const writers = 8
		var wg sync.WaitGroup
		results := make([]error, writers)
		ready := make(chan struct{})

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-ready
				_, results[i] = svc.BookSlot(context.Background(), bookingAt(clinic, &p1, start))
			}(i)
		}
		close(ready)
		wg.Wait()

		var ok, conflicts int
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
		assert.Equal(t, 1, repo.count())
	}

	t.Run("in-process lock", func(t *testing.T) {
		run(t, newMutexLocker())
	})

	t.Run("redis lock", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()
		run(t, redisclient.NewRedisSlotLocker(rdb, 5*time.Second))
	})
}

func TestBookSlot_LockWaitExhaustedIsTransient(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, failingLocker{err: redisclient.ErrLockNotAcquired})

	_, err := svc.BookSlot(context.Background(), bookingAt(uuid.New(), nil, testNow.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrTransient)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Zero(t, repo.count())
}

func TestBookSlot_DistinctProfessionalsSameInstant(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	repo := newMemRepo()
	// keep the first writer inside the critical section while the second arrives
	repo.listDelay = 50 * time.Millisecond
	svc := newTestService(repo, redisclient.NewRedisSlotLocker(rdb, 5*time.Second))

	clinic := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	start := testNow.Add(2 * time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, prof := range []*uuid.UUID{&p1, &p2} {
		wg.Add(1)
		go func(i int, prof *uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.BookSlot(context.Background(), bookingAt(clinic, prof, start))
		}(i, prof)
	}
	wg.Wait()

	assert.NoError(t, errs[0], "P1")
	assert.NoError(t, errs[1], "P2")
	assert.Equal(t, 2, repo.count())

	// an unassigned booking at the same instant is still blocked by both
	_, err := svc.BookSlot(context.Background(), bookingAt(clinic, nil, start))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBookSlot_StoreUniquenessIsConflict(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = ErrDuplicateActive
	svc := newTestService(repo, newMutexLocker())

	_, err := svc.BookSlot(context.Background(), bookingAt(uuid.New(), nil, testNow.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBookSlot_TransientFailuresLeaveNothingBehind(t *testing.T) {
	ctx := context.Background()

	t.Run("re-check read fails", func(t *testing.T) {
		repo := newMemRepo()
		repo.listErr = errors.New("connection reset")
		inv := &recordingInvalidator{}
		svc := newTestService(repo, newMutexLocker(), WithInvalidator(inv))

		_, err := svc.BookSlot(ctx, bookingAt(uuid.New(), nil, testNow.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrTransient)
		assert.Zero(t, repo.count())
		assert.Empty(t, inv.calls)
	})

	t.Run("write fails", func(t *testing.T) {
		repo := newMemRepo()
		repo.createErr = errors.New("statement timeout")
		svc := newTestService(repo, newMutexLocker())

		_, err := svc.BookSlot(ctx, bookingAt(uuid.New(), nil, testNow.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrTransient)
		assert.Zero(t, repo.count())
	})

	t.Run("lock backend down", func(t *testing.T) {
		svc := newTestService(newMemRepo(), failingLocker{err: errors.New("dial tcp: refused")})

		_, err := svc.BookSlot(ctx, bookingAt(uuid.New(), nil, testNow.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrTransient)
	})

	t.Run("retry after transient succeeds", func(t *testing.T) {
		repo := newMemRepo()
		repo.createErr = errors.New("statement timeout")
		svc := newTestService(repo, newMutexLocker())
		req := bookingAt(uuid.New(), nil, testNow.Add(time.Hour))

		_, err := svc.BookSlot(ctx, req)
		require.ErrorIs(t, err, ErrTransient)

		repo.mu.Lock()
		repo.createErr = nil
		repo.mu.Unlock()

		_, err = svc.BookSlot(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, 1, repo.count())
	})
}

func TestBookSlot_SlotChecker(t *testing.T) {
	ctx := context.Background()
	req := bookingAt(uuid.New(), nil, testNow.Add(time.Hour))

	closed := newTestService(newMemRepo(), newMutexLocker(),
		WithSlotChecker(stubChecker{err: errors.Join(ErrSlotUnavailable, errors.New("clinic closed"))}))
	_, err := closed.BookSlot(ctx, req)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	down := newTestService(newMemRepo(), newMutexLocker(),
		WithSlotChecker(stubChecker{err: context.DeadlineExceeded}))
	_, err = down.BookSlot(ctx, req)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestCancelAppointment_FreesSlot(t *testing.T) {
	repo := newMemRepo()
	inv := &recordingInvalidator{}
	svc := newTestService(repo, newMutexLocker(), WithInvalidator(inv))
	ctx := context.Background()

	clinic := uuid.New()
	p1 := uuid.New()
	start := testNow.Add(time.Hour)

	appt, err := svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
	require.NoError(t, err)

	cancelled, err := svc.CancelAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Len(t, inv.calls, 2)

	_, err = svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
	assert.NoError(t, err)

	_, err = svc.CancelAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestConfirmAppointment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, newMutexLocker())
	ctx := context.Background()

	appt, err := svc.BookSlot(ctx, bookingAt(uuid.New(), nil, testNow.Add(time.Hour)))
	require.NoError(t, err)

	confirmed, err := svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = svc.ConfirmAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.ConfirmAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCompletePastAppointments(t *testing.T) {
	repo := newMemRepo()
	clinic := uuid.New()

	ended := &Appointment{ID: uuid.New(), ClinicID: clinic, StartAt: testNow.Add(-2 * time.Hour), DurationMinutes: 30, Status: StatusConfirmed}
	running := &Appointment{ID: uuid.New(), ClinicID: clinic, StartAt: testNow.Add(-10 * time.Minute), DurationMinutes: 30, Status: StatusConfirmed}
	pending := &Appointment{ID: uuid.New(), ClinicID: clinic, StartAt: testNow.Add(-2 * time.Hour), DurationMinutes: 30, Status: StatusPending}
	for _, a := range []*Appointment{ended, running, pending} {
		repo.appointments[a.ID] = a
	}

	svc := newTestService(repo, newMutexLocker())
	n, err := svc.CompletePastAppointments(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, StatusCompleted, repo.appointments[ended.ID].Status)
	assert.Equal(t, StatusConfirmed, repo.appointments[running.ID].Status)
	assert.Equal(t, StatusPending, repo.appointments[pending.ID].Status)
}

func TestListForCalendar(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, newMutexLocker())
	ctx := context.Background()

	clinic := uuid.New()
	p1 := uuid.New()
	start := testNow.Add(time.Hour)

	a, err := svc.BookSlot(ctx, bookingAt(clinic, &p1, start))
	require.NoError(t, err)
	b, err := svc.BookSlot(ctx, bookingAt(clinic, &p1, start.Add(30*time.Minute)))
	require.NoError(t, err)
	_, err = svc.CancelAppointment(ctx, b.ID)
	require.NoError(t, err)

	got, err := svc.ListForCalendar(ctx, clinic, &p1, testNow, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestSlotLockKey(t *testing.T) {
	clinic := uuid.MustParse("7f1e2a7c-2a4f-4b49-9f0e-3d2b1c0a9e88")
	start := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "7f1e2a7c-2a4f-4b49-9f0e-3d2b1c0a9e88:1764579600", SlotLockKey(clinic, start))

	// the same instant in another zone maps to the same key
	sp := time.FixedZone("BRT", -3*60*60)
	assert.Equal(t, SlotLockKey(clinic, start), SlotLockKey(clinic, start.In(sp)))
}
