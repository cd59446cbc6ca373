package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/adapters/metrics"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
)

type recordingDeleter struct {
	deleted []string
	fail    bool
}

func (d *recordingDeleter) DeleteRoom(ctx context.Context, name string) error {
	if d.fail {
		return errors.New("media server down")
	}
	d.deleted = append(d.deleted, name)
	return nil
}

func testRoomConfig() (config.RoomConfig, config.AudioConfig) {
	cfg := config.DefaultConfig()
	cfg.Rooms.MaxConcurrentRooms = 2
	cfg.Rooms.MaxParticipantsPerRoom = 2
	return cfg.Rooms, cfg.Audio
}

func TestLedger_AdmitRespectsRoomCap(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	l := NewLedger(roomCfg, audioCfg, nil)

	_, err := l.Admit("room-1")
	require.NoError(t, err)
	_, err = l.Admit("room-2")
	require.NoError(t, err)

	_, err = l.Admit("room-3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRoomLimitReached))
	assert.Equal(t, 2, l.Count())
	assert.Equal(t, int64(1), l.Rejections())

	// Re-admitting an existing room is idempotent, not a new admission.
	_, err = l.Admit("room-1")
	assert.NoError(t, err)
}

func TestLedger_ActiveRoomGaugeFollowsLedger(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	l := NewLedger(roomCfg, audioCfg, nil)

	_, err := l.Admit("room-a")
	require.NoError(t, err)
	assert.Equal(t, float64(l.Count()), testutil.ToFloat64(metrics.RoomsActive))

	_, err = l.Admit("room-b")
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RoomsActive))

	l.Drop("room-a")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoomsActive))
	l.Drop("room-b")
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RoomsActive))
}

func TestLedger_ParticipantCap(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	l := NewLedger(roomCfg, audioCfg, nil)
	_, err := l.Admit("room-1")
	require.NoError(t, err)

	assert.True(t, l.AddParticipant("room-1", "caller"))
	assert.True(t, l.AddParticipant("room-1", "agent"))

	// The (M+1)-th participant is refused and the set is unchanged.
	assert.False(t, l.AddParticipant("room-1", "eavesdropper"))
	assert.Len(t, l.Get("room-1").Participants, 2)

	// Re-adding an existing participant succeeds without growing the set.
	assert.True(t, l.AddParticipant("room-1", "caller"))
	assert.Len(t, l.Get("room-1").Participants, 2)

	l.RemoveParticipant("room-1", "caller")
	assert.True(t, l.AddParticipant("room-1", "replacement"))
}

func TestLedger_UnknownRoomParticipant(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	l := NewLedger(roomCfg, audioCfg, nil)
	assert.False(t, l.AddParticipant("ghost", "caller"))
}

func TestLedger_AudioTrackCap(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	roomCfg.MaxAudioTracksPerRoom = 2
	l := NewLedger(roomCfg, audioCfg, nil)
	_, err := l.Admit("room-1")
	require.NoError(t, err)

	assert.True(t, l.AddAudioTrack("room-1"))
	assert.True(t, l.AddAudioTrack("room-1"))
	assert.False(t, l.AddAudioTrack("room-1"))
}

func TestLedger_MetadataWireFormat(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	l := NewLedger(roomCfg, audioCfg, nil)

	data, err := json.Marshal(l.Metadata())
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "audio_optimization")
	assert.Contains(t, doc, "performance_limits")

	var audio map[string]any
	require.NoError(t, json.Unmarshal(doc["audio_optimization"], &audio))
	assert.Equal(t, float64(audioCfg.TargetLatencyMs), audio["target_latency_ms"])
	assert.Equal(t, audioCfg.EchoCancellation, audio["echo_cancellation"])

	var limits map[string]any
	require.NoError(t, json.Unmarshal(doc["performance_limits"], &limits))
	assert.Equal(t, float64(roomCfg.MaxAudioTracksPerRoom), limits["max_audio_tracks"])
}

func TestLedger_CleanupIdleRooms(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	roomCfg.MaxConcurrentRooms = 10
	roomCfg.IdleRoomMaxAge = time.Hour
	deleter := &recordingDeleter{}
	l := NewLedger(roomCfg, audioCfg, deleter)

	old, err := l.Admit("room-old")
	require.NoError(t, err)
	old.CreatedAt = time.Now().Add(-2 * time.Hour)

	occupied, err := l.Admit("room-occupied")
	require.NoError(t, err)
	occupied.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.True(t, l.AddParticipant("room-occupied", "caller"))

	_, err = l.Admit("room-fresh")
	require.NoError(t, err)

	cleaned := l.CleanupIdleRooms(context.Background())
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, []string{"room-old"}, deleter.deleted)
	assert.Nil(t, l.Get("room-old"))
	assert.NotNil(t, l.Get("room-occupied"), "occupied rooms survive cleanup")
	assert.NotNil(t, l.Get("room-fresh"), "fresh rooms survive cleanup")
}

func TestLedger_CleanupKeepsRoomOnDeleteFailure(t *testing.T) {
	roomCfg, audioCfg := testRoomConfig()
	deleter := &recordingDeleter{fail: true}
	l := NewLedger(roomCfg, audioCfg, deleter)

	old, err := l.Admit("room-old")
	require.NoError(t, err)
	old.CreatedAt = time.Now().Add(-2 * time.Hour)

	cleaned := l.CleanupIdleRooms(context.Background())
	assert.Equal(t, 0, cleaned)
	assert.NotNil(t, l.Get("room-old"), "room stays in the ledger when the server delete fails")
}
