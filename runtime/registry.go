package runtime

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
	"polyglot-chat/errors"
)

var _ contract.IPresence = (*Registry)(nil)

type Set map[string]struct{}

// Registry is the presence directory: one profile per live connection,
// indexed by room for membership snapshots.
// The lock only covers map operations; callers never hold it across I/O.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.UserProfile // map connection -> profile
	roomMembers map[string]Set                 // map room to connections
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*domain.UserProfile),
		roomMembers: make(map[string]Set),
	}
}

// Register validates the join fields and stores the profile and its room membership atomically.
// A connection can only be registered once until it is unregistered.
func (r *Registry) Register(connectionID, displayName, language, room string, joinedAt time.Time) (domain.UserProfile, error) {
	profile, err := domain.NewUserProfile(connectionID, displayName, language, room, joinedAt)
	if err != nil {
		return domain.UserProfile{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connectionID]; exists {
		return domain.UserProfile{}, errors.ErrDuplicateConnection
	}
	r.sessions[connectionID] = &profile

	if _, ok := r.roomMembers[profile.Room]; !ok {
		r.roomMembers[profile.Room] = make(Set)
	}
	r.roomMembers[profile.Room][connectionID] = struct{}{}
	return profile, nil
}

// Unregister removes the profile and returns it so the caller can notify the room.
// Empty membership sets are dropped to keep the index from growing with dead rooms.
func (r *Registry) Unregister(connectionID string) (domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.sessions[connectionID]
	if !ok {
		return domain.UserProfile{}, errors.ErrNotFound
	}
	delete(r.sessions, connectionID)

	if members, ok := r.roomMembers[profile.Room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.roomMembers, profile.Room)
		}
	}
	return *profile, nil
}

// UpdateLanguage switches the reading language in place and returns the previous one.
func (r *Registry) UpdateLanguage(connectionID, language string) (domain.Language, error) {
	lang, err := domain.ParseLanguage(language)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.sessions[connectionID]
	if !ok {
		return "", errors.ErrNotFound
	}
	previous := profile.Language
	profile.Language = lang
	return previous, nil
}

// MembersOf returns a copy of every profile in room, ordered by join time.
func (r *Registry) MembersOf(room string) []domain.UserProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	profiles := make([]domain.UserProfile, 0, len(members))
	for connectionID := range members {
		if profile, exists := r.sessions[connectionID]; exists {
			profiles = append(profiles, *profile)
		}
	}
	slices.SortFunc(profiles, func(a, b domain.UserProfile) int {
		return cmp.Or(a.JoinedAt.Compare(b.JoinedAt), cmp.Compare(a.ConnectionID, b.ConnectionID))
	})
	return profiles
}

func (r *Registry) Lookup(connectionID string) (domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.sessions[connectionID]
	if !ok {
		return domain.UserProfile{}, errors.ErrNotFound
	}
	return *profile, nil
}
