// Package signals routes process signals to registered handlers: SIGHUP to
// reload handlers and SIGINT/SIGTERM to interrupt handlers.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Handler is called when a signal of its kind arrives.
type Handler func()

// HandlerID identifies a registered handler.
type HandlerID int

type kind int

const (
	kindIgnored kind = iota
	kindReload
	kindInterrupt
)

type entry struct {
	id HandlerID
	fn Handler
}

// Dispatcher holds reload and interrupt handlers. The zero value is ready
// to use.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    HandlerID
	reload    []entry
	interrupt []entry
}

// OnReload registers f for SIGHUP. A nil handler is ignored and returns -1.
func (d *Dispatcher) OnReload(f Handler) HandlerID {
	return d.add(&d.reload, f)
}

// OnInterrupt registers f for SIGINT and SIGTERM. A nil handler is ignored
// and returns -1.
func (d *Dispatcher) OnInterrupt(f Handler) HandlerID {
	return d.add(&d.interrupt, f)
}

// Remove deregisters the handler with the given id.
func (d *Dispatcher) Remove(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reload = without(d.reload, id)
	d.interrupt = without(d.interrupt, id)
}

func (d *Dispatcher) add(list *[]entry, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	*list = append(*list, entry{id: id, fn: f})
	return id
}

func without(list []entry, id HandlerID) []entry {
	for i, e := range list {
		if e.id == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Dispatch runs the handlers matching sig in registration order. A panicking
// handler is logged and does not stop the others.
func (d *Dispatcher) Dispatch(sig os.Signal) {
	d.mu.RLock()
	var list []entry
	switch classify(sig) {
	case kindReload:
		list = append(list, d.reload...)
	case kindInterrupt:
		list = append(list, d.interrupt...)
	}
	d.mu.RUnlock()

	for _, e := range list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":     "Dispatcher.Dispatch",
						"signal": sig.String(),
						"panic":  r,
					}).Error("signal handler panicked")
				}
			}()
			e.fn()
		}()
	}
}

// Run delivers process signals to Dispatch until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, watched...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			log.WithField("signal", sig.String()).Debug("signal received")
			d.Dispatch(sig)
		}
	}
}
