package result

import (
	"context"
	"sync"
	"time"

	"github.com/andresmejia3/blinkauth/internal/logger"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const DefaultRedirectDelay = time.Second

// employeeIDRule guards what we forward to the legacy endpoint.
const employeeIDRule = "required,printascii,max=64"

// Renderer shows an outcome to the user.
type Renderer interface {
	Render(res types.AuthenticationResult)
}

// Redirector hands a matched employee over to the legacy session.
type Redirector func(ctx context.Context, employeeID string) error

// Options configures a Sink.
type Options struct {
	Delay time.Duration
	// OnRedirect is called after each redirect attempt.
	OnRedirect func(employeeID string, err error)
	Logger     *zap.Logger
}

// Sink renders results and, on a match, redirects once after a delay.
type Sink struct {
	renderer   Renderer
	redirect   Redirector
	delay      time.Duration
	onRedirect func(string, error)
	validate   *validator.Validate
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewSink(renderer Renderer, redirect Redirector, opts Options) *Sink {
	s := &Sink{
		renderer:   renderer,
		redirect:   redirect,
		delay:      opts.Delay,
		onRedirect: opts.OnRedirect,
		validate:   validator.New(),
		logger:     logger.OrNop(opts.Logger),
		pending:    make(map[*time.Timer]struct{}),
	}
	if s.delay < 0 {
		s.delay = 0
	}
	return s
}

// Deliver renders res. A Matched result with a valid employee id schedules
// exactly one redirect.
func (s *Sink) Deliver(ctx context.Context, res types.AuthenticationResult) {
	if s.renderer != nil {
		s.renderer.Render(res)
	}
	if res.Status != types.StatusMatched || s.redirect == nil {
		return
	}

	id := res.EmployeeID
	if err := s.validate.Var(id, employeeIDRule); err != nil {
		s.logger.Error("refusing redirect for invalid employee id", zap.String("employee_id", id), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.pending, timer)
		s.mu.Unlock()

		err := s.redirect(ctx, id)
		if err != nil {
			s.logger.Error("redirect failed", zap.String("employee_id", id), zap.Error(err))
		} else {
			s.logger.Info("redirected matched employee", zap.String("employee_id", id))
		}
		if s.onRedirect != nil {
			s.onRedirect(id, err)
		}
	})
	s.pending[timer] = struct{}{}
}

// Stop cancels redirects that have not fired yet.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for t := range s.pending {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.pending, t)
	}
}

// Wait blocks until every scheduled redirect has run or been stopped.
func (s *Sink) Wait() {
	s.wg.Wait()
}
