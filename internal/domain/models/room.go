package models

import (
	"encoding/json"
	"time"
)

// RoomRecord tracks one active media room and its admission counters.
type RoomRecord struct {
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	MaxParticipants int       `json:"max_participants"`

	Participants map[string]struct{} `json:"-"`
	AudioTracks  int                 `json:"audio_tracks"`
	VideoTracks  int                 `json:"video_tracks"`

	Metadata RoomMetadata `json:"metadata"`
}

func NewRoomRecord(name string, maxParticipants int, metadata RoomMetadata) *RoomRecord {
	return &RoomRecord{
		Name:            name,
		CreatedAt:       time.Now(),
		MaxParticipants: maxParticipants,
		Participants:    make(map[string]struct{}),
		Metadata:        metadata,
	}
}

// AudioOptimization carries the media-server tuning knobs. The core never
// interprets these; they ride along in room metadata.
type AudioOptimization struct {
	TargetLatencyMs   int  `json:"target_latency_ms"`
	BufferSizeMs      int  `json:"buffer_size_ms"`
	JitterBufferMs    int  `json:"jitter_buffer_ms"`
	EchoCancellation  bool `json:"echo_cancellation"`
	NoiseSuppression  bool `json:"noise_suppression"`
	AutoGainControl   bool `json:"auto_gain_control"`
	AdaptiveBitrate   bool `json:"adaptive_bitrate"`
	MinBitrateKbps    int  `json:"min_bitrate_kbps"`
	MaxBitrateKbps    int  `json:"max_bitrate_kbps"`
}

// PerformanceLimits advertises per-room track caps; the media server
// enforces them at runtime.
type PerformanceLimits struct {
	MaxAudioTracks int `json:"max_audio_tracks"`
	MaxVideoTracks int `json:"max_video_tracks"`
}

// RoomMetadata is the opaque UTF-8 JSON document passed verbatim to the
// media server on room creation. Keys this core does not know about must
// survive a decode/encode cycle, so unknown fields are kept as raw JSON.
type RoomMetadata struct {
	AudioOptimization AudioOptimization
	PerformanceLimits PerformanceLimits

	extra map[string]json.RawMessage
}

func (m RoomMetadata) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(m.extra)+2)
	for k, v := range m.extra {
		doc[k] = v
	}

	audio, err := json.Marshal(m.AudioOptimization)
	if err != nil {
		return nil, err
	}
	limits, err := json.Marshal(m.PerformanceLimits)
	if err != nil {
		return nil, err
	}
	doc["audio_optimization"] = audio
	doc["performance_limits"] = limits

	return json.Marshal(doc)
}

func (m *RoomMetadata) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	if raw, ok := doc["audio_optimization"]; ok {
		if err := json.Unmarshal(raw, &m.AudioOptimization); err != nil {
			return err
		}
		delete(doc, "audio_optimization")
	}
	if raw, ok := doc["performance_limits"]; ok {
		if err := json.Unmarshal(raw, &m.PerformanceLimits); err != nil {
			return err
		}
		delete(doc, "performance_limits")
	}

	if len(doc) > 0 {
		m.extra = doc
	}
	return nil
}
