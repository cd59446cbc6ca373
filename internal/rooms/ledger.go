// Package rooms enforces admission limits over active media rooms and
// assembles the opaque metadata document the media server receives.
package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/metrics"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain/models"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

// RoomDeleter is the slice of the media-server surface the janitor needs.
// The connection pool satisfies it through a scoped connection.
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, name string) error
}

// Ledger is the process-wide room registry. All admission checks run
// atomically under one lock.
type Ledger struct {
	mu       sync.Mutex
	cfg      config.RoomConfig
	audio    config.AudioConfig
	rooms    map[string]*models.RoomRecord
	rejected int64

	deleter RoomDeleter
}

func NewLedger(cfg config.RoomConfig, audio config.AudioConfig, deleter RoomDeleter) *Ledger {
	return &Ledger{
		cfg:     cfg,
		audio:   audio,
		rooms:   make(map[string]*models.RoomRecord),
		deleter: deleter,
	}
}

// Metadata assembles the room metadata document from the audio knobs and
// track caps. Passed verbatim to the media server.
func (l *Ledger) Metadata() models.RoomMetadata {
	return models.RoomMetadata{
		AudioOptimization: models.AudioOptimization{
			TargetLatencyMs:  l.audio.TargetLatencyMs,
			BufferSizeMs:     l.audio.BufferSizeMs,
			JitterBufferMs:   l.audio.JitterBufferMs,
			EchoCancellation: l.audio.EchoCancellation,
			NoiseSuppression: l.audio.NoiseSuppression,
			AutoGainControl:  l.audio.AutoGainControl,
			AdaptiveBitrate:  l.audio.AdaptiveBitrate,
			MinBitrateKbps:   l.audio.MinBitrateKbps,
			MaxBitrateKbps:   l.audio.MaxBitrateKbps,
		},
		PerformanceLimits: models.PerformanceLimits{
			MaxAudioTracks: l.cfg.MaxAudioTracksPerRoom,
			MaxVideoTracks: l.cfg.MaxVideoTracksPerRoom,
		},
	}
}

// Options builds the creation options for a new room.
func (l *Ledger) Options() ports.RoomOptions {
	return ports.RoomOptions{
		EmptyTimeout:     l.cfg.EmptyRoomTimeout,
		DepartureTimeout: l.cfg.DepartureTimeout,
		MaxParticipants:  l.cfg.MaxParticipantsPerRoom,
		Metadata:         l.Metadata(),
	}
}

// Admit registers a new room if the concurrent-room cap allows it.
func (l *Ledger) Admit(name string) (*models.RoomRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.rooms[name]; exists {
		return l.rooms[name], nil
	}
	if len(l.rooms) >= l.cfg.MaxConcurrentRooms {
		l.rejected++
		return nil, fmt.Errorf("%w: %d active", domain.ErrRoomLimitReached, len(l.rooms))
	}

	record := models.NewRoomRecord(name, l.cfg.MaxParticipantsPerRoom, l.Metadata())
	l.rooms[name] = record
	metrics.RoomsActive.Set(float64(len(l.rooms)))
	return record, nil
}

// AddParticipant admits one participant. Returns false and leaves the set
// unchanged when the room is full or unknown.
func (l *Ledger) AddParticipant(roomName, identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[roomName]
	if !ok {
		return false
	}
	if _, present := room.Participants[identity]; present {
		return true
	}
	if len(room.Participants) >= room.MaxParticipants {
		l.rejected++
		return false
	}
	room.Participants[identity] = struct{}{}
	return true
}

// RemoveParticipant drops a participant; unknown names are ignored.
func (l *Ledger) RemoveParticipant(roomName, identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if room, ok := l.rooms[roomName]; ok {
		delete(room.Participants, identity)
	}
}

// AddAudioTrack counts one audio track against the per-room cap.
func (l *Ledger) AddAudioTrack(roomName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[roomName]
	if !ok || room.AudioTracks >= l.cfg.MaxAudioTracksPerRoom {
		return false
	}
	room.AudioTracks++
	return true
}

// Drop removes a room from the ledger without touching the media server.
func (l *Ledger) Drop(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rooms, name)
	metrics.RoomsActive.Set(float64(len(l.rooms)))
}

// Get returns the record for a room, or nil.
func (l *Ledger) Get(name string) *models.RoomRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rooms[name]
}

// Count reports the number of active rooms.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}

// Rejections reports how many admissions were refused.
func (l *Ledger) Rejections() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// CleanupIdleRooms deletes rooms older than the idle cutoff with zero
// participants, both from the media server and the ledger. Returns how
// many rooms were removed.
func (l *Ledger) CleanupIdleRooms(ctx context.Context) int {
	maxAge := l.cfg.IdleRoomMaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	cutoff := time.Now().Add(-maxAge)

	l.mu.Lock()
	var idle []string
	for name, room := range l.rooms {
		if room.CreatedAt.Before(cutoff) && len(room.Participants) == 0 {
			idle = append(idle, name)
		}
	}
	l.mu.Unlock()

	cleaned := 0
	for _, name := range idle {
		if l.deleter != nil {
			if err := l.deleter.DeleteRoom(ctx, name); err != nil {
				slog.Warn("rooms: idle room deletion failed", "room", name, "error", err)
				continue
			}
		}
		l.Drop(name)
		cleaned++
		slog.Info("rooms: idle room cleaned up", "room", name)
	}
	return cleaned
}
