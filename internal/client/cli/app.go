package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/envvault/internal/client/services"
	"github.com/dmitrijs2005/envvault/internal/logging"
)

// Connectivity of the remote backend as shown in the prompt.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Pinger is implemented by backends that can report server liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	svc    services.VaultService
	pinger Pinger
	log    logging.Logger
	in     io.Reader
	out    io.Writer
	mode   atomic.Value // Mode
}

type Option func(*App)

// WithPinger enables the connectivity watcher.
func WithPinger(p Pinger) Option {
	return func(a *App) { a.pinger = p }
}

func WithLogger(l logging.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

func NewApp(svc services.VaultService, opts ...Option) *App {
	a := &App{svc: svc, log: logging.Nop{}, in: os.Stdin, out: os.Stdout}
	for _, o := range opts {
		o(a)
	}
	mode := ModeLocal
	if a.pinger != nil {
		mode = ModeOnline
	}
	a.mode.Store(mode)
	return a
}

func (a *App) Mode() Mode { return a.mode.Load().(Mode) }

func (a *App) setMode(ctx context.Context, mode Mode) {
	if old := a.mode.Swap(mode).(Mode); old != mode {
		a.log.Info(ctx, "connectivity changed", "mode", string(mode))
	}
}

// Run starts the REPL and blocks until the user exits or ctx is done. The
// vault is locked on return.
func (a *App) Run(ctx context.Context, checkInterval time.Duration) error {
	defer a.svc.Lock()

	if a.pinger != nil && checkInterval > 0 {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go a.StartOnlineStatusWatcher(watchCtx, checkInterval)
	}

	printlnFn("Welcome to envvault (type 'help' for commands)")
	runREPL(ctx, a, a.prompt, bufio.NewScanner(a.in))
	return nil
}

// StartOnlineStatusWatcher pings the server every interval and flips the
// mode between online and offline.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.pinger.Ping(pctx)
			cancel()

			if err != nil {
				a.setMode(ctx, ModeOffline)
			} else {
				a.setMode(ctx, ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *App) prompt() string {
	return "(" + string(a.Mode()) + " " + a.svc.Status().String() + ")"
}

func (a *App) Touch() { a.svc.Touch() }
