package models

// Voice selects the synthesis voice. Speed outside [0.5, 2.0] is clamped.
type Voice struct {
	ID       string  `json:"id"`
	Speed    float64 `json:"speed"`
	Language string  `json:"language,omitempty"`
	Emotion  string  `json:"emotion,omitempty"`
}

const (
	MinVoiceSpeed = 0.5
	MaxVoiceSpeed = 2.0
)

func NewVoice(voiceID string, speed float64) Voice {
	if speed < MinVoiceSpeed {
		speed = MinVoiceSpeed
	}
	if speed > MaxVoiceSpeed {
		speed = MaxVoiceSpeed
	}
	return Voice{ID: voiceID, Speed: speed}
}

// AudioContainer names the on-the-wire audio packaging.
type AudioContainer string

const (
	ContainerWAV AudioContainer = "wav"
	ContainerMP3 AudioContainer = "mp3"
	ContainerRaw AudioContainer = "raw"
)

// AudioFormat describes the synthesis output format.
type AudioFormat struct {
	Container  AudioContainer `json:"container"`
	SampleRate int            `json:"sample_rate"`
	Encoding   string         `json:"encoding,omitempty"`
	BitRate    int            `json:"bit_rate,omitempty"`
}

// TelephonyFormat returns the 8 kHz format used for phone audio.
func TelephonyFormat() AudioFormat {
	return AudioFormat{
		Container:  ContainerWAV,
		SampleRate: 8000,
		Encoding:   "pcm_s16le",
	}
}

// DefaultFormat is the wideband default for non-telephony consumers.
func DefaultFormat() AudioFormat {
	return AudioFormat{
		Container:  ContainerWAV,
		SampleRate: 16000,
		Encoding:   "pcm_s16le",
	}
}
