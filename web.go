package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Nevug030/ShababsHub/internal/broadcast"
	"github.com/Nevug030/ShababsHub/internal/quiz"
	"github.com/Nevug030/ShababsHub/internal/room"
	"github.com/Nevug030/ShababsHub/internal/serial"
	"github.com/Nevug030/ShababsHub/internal/store"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second

	serialQueue = 64
)

type server struct {
	cfg   *Config
	log   zerolog.Logger
	clock clock.Clock

	store store.Store
	bus   *broadcast.Bus
	exec  *serial.Executor
	rooms *room.Coordinator
	quiz  *quiz.Machine
}

func newServer(cfg *Config, log zerolog.Logger, st store.Store, clk clock.Clock) *server {
	bus := broadcast.NewBus(log, clk, cfg.outboxSize)
	exec := serial.New(serialQueue)

	rooms := room.New(st, bus, exec, clk, log, room.Config{CodeAttempts: cfg.codeAttempts})
	machine := quiz.New(st, bus, exec, clk, log, quiz.Config{
		AnswerWindow:      cfg.answerWindow,
		PointsPerQuestion: cfg.pointsPerQuestion,
		TotalRounds:       cfg.totalRounds,
	})
	rooms.OnClose(machine)

	return &server{
		cfg:   cfg,
		log:   log.With().Str("component", "http").Logger(),
		clock: clk,
		store: st,
		bus:   bus,
		exec:  exec,
		rooms: rooms,
		quiz:  machine,
	}
}

func openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.store {
	case "sqlite":
		return store.NewSQLite(ctx, cfg.sqlitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.postgresURL)
	default:
		return store.NewMemory(), nil
	}
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// served logs a completed plain-text response at debug level.
func (s *server) served(r *http.Request, what string, written int, start time.Time) {
	s.log.Debug().
		Str("remote", realIP(r)).
		Str("size", humanReadableSize(int64(written))).
		Dur("took", time.Since(start).Round(time.Microsecond)).
		Msgf("served %s", what)
}

func (s *server) serveVersion() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("shababshub v" + releaseVersion + "\n"))
		if err != nil {
			s.log.Debug().Err(err).Msg("write version")
			return
		}

		s.served(r, "version page", written, startTime)
	}
}

func (s *server) router() *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.log.Error().Interface("panic", i).Str("path", r.URL.Path).Msg("handler panicked")
		securityHeaders(s.cfg, w)
		s.writeError(w, r, fmt.Errorf("panic: %v", i))
	}

	prefix := strings.TrimSuffix(s.cfg.prefix, "/")

	mux.GET(prefix+"/", s.serveHomePage())
	mux.GET(prefix+"/healthz", s.serveHealthCheck())
	mux.GET(prefix+"/robots.txt", s.serveRobots())
	mux.GET(prefix+"/version", s.serveVersion())

	if s.cfg.profile {
		registerProfileHandlers(prefix, mux)
	}

	s.registerRooms(prefix, mux)
	s.registerQuiz(prefix, mux)

	return mux
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	log := newLogger(cfg, os.Stderr)
	log.Info().Str("store", cfg.store).Msgf("starting shababshub v%s", releaseVersion)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.store, err)
	}
	defer st.Close()

	s := newServer(cfg, log, st, clock.New())

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           s.router(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("listening on %s://%s%s/", cfg.scheme(), srv.Addr, strings.TrimSuffix(cfg.prefix, "/"))

		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return s.bus.Run(ctx, cfg.channelTimeout)
	})

	g.Go(func() error {
		return s.exec.Run(ctx, cfg.channelTimeout)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	log.Info().Msg("stopped")

	return err
}
