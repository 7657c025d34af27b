package sse

import (
	"context"
	"sync"

	"ms-booking/internal/notify"
)

// BookingEventEmitter fans booking events out to live subscribers, keyed
// by the booking user and by the agency that owns the resource.
type BookingEventEmitter struct {
	userClients     map[string][]chan notify.Event
	userClientMutex sync.RWMutex

	agencyClients     map[string][]chan notify.Event
	agencyClientMutex sync.RWMutex
}

func NewBookingEventEmitter() *BookingEventEmitter {
	return &BookingEventEmitter{
		userClients:   make(map[string][]chan notify.Event),
		agencyClients: make(map[string][]chan notify.Event),
	}
}

// SubscribeToUser returns a channel closed once ctx is done.
func (e *BookingEventEmitter) SubscribeToUser(ctx context.Context, userID string) <-chan notify.Event {
	return subscribe(ctx, &e.userClientMutex, e.userClients, userID)
}

func (e *BookingEventEmitter) SubscribeToAgency(ctx context.Context, agencyID string) <-chan notify.Event {
	return subscribe(ctx, &e.agencyClientMutex, e.agencyClients, agencyID)
}

// Emit never blocks: a subscriber with a full buffer misses the event.
func (e *BookingEventEmitter) Emit(ev notify.Event) {
	broadcast(&e.userClientMutex, e.userClients, ev.UserID, ev)
	broadcast(&e.agencyClientMutex, e.agencyClients, ev.AgencyID, ev)
}

// Notify lets the emitter sit behind a notify.Dispatcher.
func (e *BookingEventEmitter) Notify(_ context.Context, ev notify.Event) error {
	e.Emit(ev)
	return nil
}

func (e *BookingEventEmitter) UserClientCount(userID string) int {
	e.userClientMutex.RLock()
	defer e.userClientMutex.RUnlock()
	return len(e.userClients[userID])
}

func (e *BookingEventEmitter) AgencyClientCount(agencyID string) int {
	e.agencyClientMutex.RLock()
	defer e.agencyClientMutex.RUnlock()
	return len(e.agencyClients[agencyID])
}

func subscribe(ctx context.Context, mu *sync.RWMutex, clients map[string][]chan notify.Event, key string) <-chan notify.Event {
	ch := make(chan notify.Event, 10)

	mu.Lock()
	clients[key] = append(clients[key], ch)
	mu.Unlock()

	go func() {
		<-ctx.Done()
		remove(mu, clients, key, ch)
	}()
	return ch
}

func broadcast(mu *sync.RWMutex, clients map[string][]chan notify.Event, key string, ev notify.Event) {
	if key == "" {
		return
	}
	// Sends happen under the read lock so remove cannot close a channel
	// mid-send.
	mu.RLock()
	defer mu.RUnlock()
	for _, ch := range clients[key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func remove(mu *sync.RWMutex, clients map[string][]chan notify.Event, key string, ch chan notify.Event) {
	mu.Lock()
	defer mu.Unlock()

	list := clients[key]
	for i, c := range list {
		if c == ch {
			clients[key] = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(clients[key]) == 0 {
		delete(clients, key)
	}
}
