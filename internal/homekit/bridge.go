// Package homekit exposes every timer as a HomeKit switch. The switch is on
// while the timer runs; toggling it from the Home app starts or stops the timer.
package homekit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
	"github.com/mescon/InfinityStatus/internal/services"
)

// ErrNoTimers is returned when the bridge has nothing to expose.
var ErrNoTimers = errors.New("no timers to expose")

// TimerControl starts and stops timers.
type TimerControl interface {
	Start(ctx context.Context, id string) (domain.TimerState, error)
	Stop(ctx context.Context, id string) (domain.TimerState, error)
}

// StateSource looks up the current state of a timer.
type StateSource interface {
	State(id string) (domain.TimerState, bool)
}

// Subscriber is the part of the event bus the bridge listens on.
type Subscriber interface {
	SubscribeMany(types []domain.EventType, handler func(domain.Event))
}

// watchedEvents change a timer's run flag.
var watchedEvents = []domain.EventType{
	domain.TimerStarted,
	domain.TimerStopped,
	domain.TimerReset,
	domain.TimerRestarted,
	domain.TimerDurationChanged,
	domain.TimersSynchronized,
	domain.TimersAdopted,
}

// Bridge is a HomeKit bridge with one switch per timer.
type Bridge struct {
	control TimerControl
	states  StateSource
	pin     string
	dir     string

	bridge   *accessory.Bridge
	switches map[string]*accessory.Switch
	order    []string

	mu sync.Mutex
}

// NewBridge builds the accessories for timers. Switches start in the timers' current run state.
func NewBridge(name, pin, storeDir string, control TimerControl, states StateSource, timers []domain.TimerState) (*Bridge, error) {
	if len(timers) == 0 {
		return nil, ErrNoTimers
	}

	sorted := append([]domain.TimerState(nil), timers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	b := &Bridge{
		control:  control,
		states:   states,
		pin:      pin,
		dir:      storeDir,
		switches: make(map[string]*accessory.Switch, len(sorted)),
		bridge: accessory.NewBridge(accessory.Info{
			Name:         name,
			Manufacturer: "Infinity Status",
		}),
	}

	for _, t := range sorted {
		id := t.ID
		label := t.Name
		if label == "" {
			label = id
		}
		sw := accessory.NewSwitch(accessory.Info{
			Name:         label,
			SerialNumber: id,
			Manufacturer: "Infinity Status",
			Model:        "Repeating Timer",
		})
		sw.Switch.On.SetValue(t.Running)
		sw.Switch.On.OnValueRemoteUpdate(func(on bool) {
			b.remoteToggle(id, on)
		})
		b.switches[id] = sw
		b.order = append(b.order, id)
	}

	return b, nil
}

// Subscribe keeps the switches in step with timer events.
func (b *Bridge) Subscribe(sub Subscriber) {
	sub.SubscribeMany(watchedEvents, b.handleEvent)
}

// Serve runs the HAP server until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context) error {
	if err := os.MkdirAll(b.dir, 0750); err != nil {
		return fmt.Errorf("failed to create HomeKit store dir: %w", err)
	}

	others := make([]*accessory.A, 0, len(b.order))
	for _, id := range b.order {
		others = append(others, b.switches[id].A)
	}

	server, err := hap.NewServer(hap.NewFsStore(b.dir), b.bridge.A, others...)
	if err != nil {
		return fmt.Errorf("failed to create HAP server: %w", err)
	}
	server.Pin = b.pin

	logger.Infof("HomeKit bridge serving %d timers (pin %s)", len(b.order), b.pin)
	err = server.ListenAndServe(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("HomeKit server stopped: %w", err)
	}
	return nil
}

// On reports the current switch value for id.
func (b *Bridge) On(id string) (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sw, ok := b.switches[id]
	if !ok {
		return false, false
	}
	return sw.Switch.On.Value(), true
}

func (b *Bridge) remoteToggle(id string, on bool) {
	ctx := services.WithSource(context.Background(), "homekit")

	var (
		st  domain.TimerState
		err error
	)
	if on {
		st, err = b.control.Start(ctx, id)
	} else {
		st, err = b.control.Stop(ctx, id)
	}
	if err != nil {
		logger.Errorf("HomeKit toggle of %q failed: %v", id, err)
		b.refresh(id)
		return
	}
	logger.Debugf("HomeKit set %q running=%v", id, st.Running)
	b.set(id, st.Running)
}

func (b *Bridge) handleEvent(ev domain.Event) {
	ids, ok := ev.GetStringSlice("timers")
	if !ok {
		ids = []string{ev.AggregateID}
	}
	for _, id := range ids {
		b.refresh(id)
	}
}

// refresh pushes the authoritative run flag of id to its switch.
func (b *Bridge) refresh(id string) {
	st, ok := b.states.State(id)
	if !ok {
		return
	}
	b.set(id, st.Running)
}

func (b *Bridge) set(id string, running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sw, ok := b.switches[id]
	if !ok {
		return
	}
	if sw.Switch.On.Value() != running {
		sw.Switch.On.SetValue(running)
	}
}
