package shard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/world"
)

// TicketState is the state of a despawn ticket
type TicketState int

const (
	TicketPending TicketState = iota
	TicketFinalizing
	TicketCancelled
	TicketDestroyed
)

func (s TicketState) String() string {
	switch s {
	case TicketPending:
		return "Pending"
	case TicketFinalizing:
		return "Finalizing"
	case TicketCancelled:
		return "Cancelled"
	case TicketDestroyed:
		return "Destroyed"
	}
	return fmt.Sprintf("TicketState<%d>", int(s))
}

// causes of cancelling the wait of a ticket
var (
	errReclaimed = errors.New("reclaimed by reconnect")
	errReplaced  = errors.New("replaced by a new ticket")
	errForced    = errors.New("forced despawn")
)

// DespawnTicket is the pending save-and-remove of one disconnected character
type DespawnTicket struct {
	CharacterID string
	character   *PlayerCharacter
	ctx         context.Context
	cancel      context.CancelCauseFunc
	delay       time.Duration
	state       atomic.Int32 // written with DespawnScheduler.mu held
	done        chan struct{}
}

func (t *DespawnTicket) String() string {
	return fmt.Sprintf("DespawnTicket<%s|%s>", t.CharacterID, t.State())
}

// State returns the current state of the ticket
func (t *DespawnTicket) State() TicketState {
	return TicketState(t.state.Load())
}

// Done is closed when the ticket is cancelled or destroyed
func (t *DespawnTicket) Done() <-chan struct{} {
	return t.done
}

func (t *DespawnTicket) finish(state TicketState) {
	t.state.Store(int32(state))
	close(t.done)
}

// CharacterSaver persists the character
type CharacterSaver func(ctx context.Context, pc *PlayerCharacter) error

// CharacterDestroyer removes the character from the shard
type CharacterDestroyer func(pc *PlayerCharacter)

// DespawnScheduler runs the delayed and cancellable save-and-remove sequence of
// disconnected characters. There is at most one ticket per character.
type DespawnScheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	tickets map[string]*DespawnTicket
	save    CharacterSaver
	destroy CharacterDestroyer
}

// NewDespawnScheduler creates a scheduler which waits delay before finalizing
func NewDespawnScheduler(delay time.Duration, save CharacterSaver, destroy CharacterDestroyer) *DespawnScheduler {
	return &DespawnScheduler{
		delay:   delay,
		tickets: map[string]*DespawnTicket{},
		save:    save,
		destroy: destroy,
	}
}

// SetDelay changes the delay of tickets scheduled from now on
func (ds *DespawnScheduler) SetDelay(delay time.Duration) {
	ds.mu.Lock()
	ds.delay = delay
	ds.mu.Unlock()
}

// Schedule starts despawning the character whose owner has left.
//
// Transient flags are cleared and the character is saved before Schedule returns.
// A pending ticket of the same character is cancelled and replaced, a finalizing
// one is returned as is.
func (ds *DespawnScheduler) Schedule(pc *PlayerCharacter) *DespawnTicket {
	pc.Entity.StopTrading()
	pc.Entity.StopMoving(world.MovementDirectionalMask)

	ctx, cancel := context.WithCancelCause(context.Background())
	t := &DespawnTicket{
		CharacterID: pc.ID(),
		character:   pc,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	ds.mu.Lock()
	if old := ds.tickets[t.CharacterID]; old != nil {
		if old.State() == TicketFinalizing {
			ds.mu.Unlock()
			cancel(nil)
			return old
		}
		old.finish(TicketCancelled)
		old.cancel(errReplaced)
		despawnsTotal.WithLabelValues("replaced").Inc()
	}
	t.delay = ds.delay
	ds.tickets[t.CharacterID] = t
	pendingDespawnsGauge.Set(float64(len(ds.tickets)))
	ds.mu.Unlock()

	gwlog.Debugf("%s: scheduled, delay %s", t, t.delay)
	ds.saveCharacter(t, "disconnect")
	go gwutils.RunPanicless(func() {
		ds.wait(t)
	})
	return t
}

func (ds *DespawnScheduler) wait(t *DespawnTicket) {
	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.ctx.Done():
		cause := context.Cause(t.ctx)
		if errors.Is(cause, errReclaimed) || errors.Is(cause, errReplaced) || errors.Is(cause, errForced) {
			gwlog.Debugf("%s: wait cancelled: %s", t, cause)
		} else {
			gwlog.Errorf("%s: wait interrupted: %s", t, cause)
		}
	}

	ds.mu.Lock()
	if t.State() != TicketPending {
		// whoever cancelled the ticket owns the outcome
		ds.mu.Unlock()
		return
	}
	t.state.Store(int32(TicketFinalizing))
	ds.mu.Unlock()

	ds.finalize(t, "expired")
}

func (ds *DespawnScheduler) finalize(t *DespawnTicket, outcome string) {
	defer func() {
		ds.mu.Lock()
		t.finish(TicketDestroyed)
		if ds.tickets[t.CharacterID] == t {
			delete(ds.tickets, t.CharacterID)
		}
		pendingDespawnsGauge.Set(float64(len(ds.tickets)))
		ds.mu.Unlock()
		t.cancel(nil)
		despawnsTotal.WithLabelValues(outcome).Inc()
		gwlog.Debugf("%s: finalized (%s)", t, outcome)
	}()

	// save and destroy must both run even if one of them fails
	gwutils.RunPanicless(func() {
		ds.saveCharacter(t, outcome)
	})
	gwutils.RunPanicless(func() {
		ds.destroy(t.character)
	})
}

func (ds *DespawnScheduler) saveCharacter(t *DespawnTicket, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DESPAWN_SAVE_TIMEOUT)
	defer cancel()
	if err := ds.save(ctx, t.character); err != nil {
		gwlog.Errorf("%s: save on %s failed: %s", t, reason, err)
	}
}

// Reclaim cancels the pending ticket of a reconnecting character without saving or
// destroying it, and returns the still spawned character. If finalization has already
// started, Reclaim waits for it to finish and returns false.
func (ds *DespawnScheduler) Reclaim(characterID string) (*PlayerCharacter, bool) {
	ds.mu.Lock()
	t := ds.tickets[characterID]
	if t == nil {
		ds.mu.Unlock()
		return nil, false
	}
	if t.State() == TicketPending {
		delete(ds.tickets, characterID)
		t.finish(TicketCancelled)
		pendingDespawnsGauge.Set(float64(len(ds.tickets)))
		ds.mu.Unlock()
		t.cancel(errReclaimed)
		despawnsTotal.WithLabelValues("reclaimed").Inc()
		return t.character, true
	}
	ds.mu.Unlock()

	<-t.done
	return nil, false
}

// ForceDespawn finalizes the pending ticket of the character now. A character
// without ticket counts as already despawned.
func (ds *DespawnScheduler) ForceDespawn(ctx context.Context, characterID string) error {
	ds.mu.Lock()
	t := ds.tickets[characterID]
	if t == nil {
		ds.mu.Unlock()
		return nil
	}
	if t.State() == TicketPending {
		t.state.Store(int32(TicketFinalizing))
		ds.mu.Unlock()
		t.cancel(errForced)
		ds.finalize(t, "forced")
		return nil
	}
	ds.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinalizeAll finalizes every pending ticket now
func (ds *DespawnScheduler) FinalizeAll(ctx context.Context) {
	ds.mu.Lock()
	characterIDs := make([]string, 0, len(ds.tickets))
	for characterID := range ds.tickets {
		characterIDs = append(characterIDs, characterID)
	}
	ds.mu.Unlock()

	for _, characterID := range characterIDs {
		if err := ds.ForceDespawn(ctx, characterID); err != nil {
			gwlog.Errorf("despawn of %s not finished: %s", characterID, err)
		}
	}
}

// IsPending returns if the character has a ticket which is not finished
func (ds *DespawnScheduler) IsPending(characterID string) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	_, ok := ds.tickets[characterID]
	return ok
}

// Ticket returns the current ticket of the character
func (ds *DespawnScheduler) Ticket(characterID string) *DespawnTicket {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.tickets[characterID]
}

// Count returns the number of unfinished tickets
func (ds *DespawnScheduler) Count() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.tickets)
}
