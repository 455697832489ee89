package main

import (
	"fmt"
	"io"
	"log"

	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/controller"
	"github.com/zulandar/postyard/internal/db"
	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/history"
	"github.com/zulandar/postyard/internal/notify"
	"github.com/zulandar/postyard/internal/pacing"
)

// sleep overrides the pacer's sleep in tests. Nil uses real time.
var sleep pacing.SleepFunc

// services bundles the optional collaborators a command wires around a
// controller.
type services struct {
	history  *history.Store
	notifier *notify.Notifier
	closers  []func()
}

// openServices connects the history store and chat notifier when the
// config enables them.
func openServices(cfg *config.Config) (*services, error) {
	s := &services{}
	if cfg.History.Driver != "" {
		gormDB, err := db.Connect(cfg.History)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := db.Close(gormDB); err != nil {
				log.Printf("close history db: %v", err)
			}
		})
		store, err := history.NewStore(gormDB)
		if err != nil {
			s.close()
			return nil, err
		}
		s.history = store
	}
	n, err := notify.FromConfig(cfg.Notify, cfg.Account.Username)
	if err != nil {
		s.close()
		return nil, err
	}
	if n != nil {
		s.notifier = n
		s.closers = append(s.closers, n.Close)
	}
	return s, nil
}

// sink returns the notifier as a sink, or nil when notifications are off.
func (s *services) sink() events.Sink {
	if s.notifier == nil {
		return nil
	}
	return s.notifier
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func newController(s *services, sink events.Sink, echo io.Writer) *controller.Controller {
	return controller.New(controller.Opts{
		Sink:    sink,
		History: s.history,
		Echo:    echo,
		Sleep:   sleep,
	})
}
