// Package ui implements the facade the terminal frontend talks to: a
// single entrypoint for outgoing requests and incoming notifications that
// hides the fact that each profile is actually backed by its own adapter,
// dispatcher, and cache instance.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/cache"
	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/status"
)

// NotificationHandler is the sink the frontend registers to receive every
// notification across every loaded profile, already cache-processed.
type NotificationHandler func(message.Notification)

// profileBinding is everything the facade owns for one loaded profile. The
// adapter owns its own internal dispatcher (see package dispatcher); the
// facade only fronts it with a cache so repeated history reads never
// reach the network.
type profileBinding struct {
	adapter adapter.Adapter
	cache   *cache.Cache
}

// Facade is the single object the frontend holds. It is safe for
// concurrent use from the input-handling goroutine and the goroutines
// delivering notifications.
type Facade struct {
	logger *slog.Logger

	mu           sync.RWMutex
	profiles     map[message.ProfileId]*profileBinding
	currentId    message.ProfileId
	currentChat  string

	onNotify NotificationHandler
}

// New constructs an empty Facade. Call SetNotificationHandler before
// AddProtocol so no notification is dropped during startup.
func New(logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		logger:   logger.With("component", "ui"),
		profiles: make(map[message.ProfileId]*profileBinding),
	}
}

// SetNotificationHandler registers the sink for all cache-processed
// notifications across every profile.
func (f *Facade) SetNotificationHandler(h NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNotify = h
}

// AddProtocol wires one already-loaded adapter instance into the facade:
// it opens the profile's cache and connects the adapter's notification
// handler to it, so every notification the adapter emits is
// cache-processed before reaching the frontend.
func (f *Facade) AddProtocol(a adapter.Adapter, profileDir string) error {
	id := a.GetProfileId()

	c, err := cache.Open(profileDir, id, f.logger)
	if err != nil {
		return fmt.Errorf("ui: open cache for %s: %w", id, err)
	}

	c.Forward = func(n message.Notification) {
		f.mu.RLock()
		h := f.onNotify
		f.mu.RUnlock()
		if h != nil {
			h(n)
		}
	}

	a.SetMessageHandler(func(n message.Notification) { c.HandleNotification(n) })

	f.mu.Lock()
	f.profiles[id] = &profileBinding{adapter: a, cache: c}
	if f.currentId == "" {
		f.currentId = id
	}
	f.mu.Unlock()

	return nil
}

// RemoveProtocol drops a loaded profile's binding, closing its cache. The
// adapter itself must already be logged out / closed by the caller.
func (f *Facade) RemoveProtocol(id message.ProfileId) {
	f.mu.Lock()
	b, ok := f.profiles[id]
	if ok {
		delete(f.profiles, id)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	b.cache.Close()
}

// SendRequest routes a request to the profile it names: cache hits for
// history are answered immediately without reaching the adapter, and
// everything else is handed to that profile's adapter, whose own internal
// dispatcher serializes it.
func (f *Facade) SendRequest(req message.Request) {
	id := req.ProfileID()
	f.mu.RLock()
	b, ok := f.profiles[id]
	h := f.onNotify
	f.mu.RUnlock()
	if !ok {
		f.logger.Warn("request for unknown profile", "profile", string(id))
		if h != nil {
			h(message.Fail(req))
		}
		return
	}

	if b.cache.HandleRequest(req) {
		return
	}
	b.adapter.SendRequest(req)
}

// CurrentProfile returns the profile currently shown in the UI.
func (f *Facade) CurrentProfile() message.ProfileId {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentId
}

// SetCurrentProfile switches the active profile shown in the UI.
func (f *Facade) SetCurrentProfile(id message.ProfileId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentId = id
}

// CurrentChat returns the chat currently open within the current profile.
func (f *Facade) CurrentChat() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentChat
}

// SetCurrentChat switches the chat open within the current profile.
func (f *Facade) SetCurrentChat(chatId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentChat = chatId
}

// Status returns the status register for a loaded profile, or nil if it
// isn't loaded.
func (f *Facade) Status(id message.ProfileId) *status.Register {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if b, ok := f.profiles[id]; ok {
		return b.adapter.Status()
	}
	return nil
}

// Profiles lists every currently loaded profile id.
func (f *Facade) Profiles() []message.ProfileId {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]message.ProfileId, 0, len(f.profiles))
	for id := range f.profiles {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown logs out every loaded profile's adapter and closes its cache.
func (f *Facade) Shutdown() {
	f.mu.Lock()
	profiles := f.profiles
	f.profiles = make(map[message.ProfileId]*profileBinding)
	f.mu.Unlock()

	for _, b := range profiles {
		b.adapter.Logout()
		b.adapter.CloseProfile()
		b.cache.Close()
	}
}
