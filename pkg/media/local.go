package media

import (
	"media-coordinator/pkg/log"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// LocalMedia is the single outbound track set shared by every session:
// audio is required, video is optional.
type LocalMedia struct {
	audio *Track
	video *Track
}

// Acquire opens the microphone and, when withVideo is set, the camera. A
// missing camera degrades to audio-only; any other failure is returned and
// nothing stays acquired.
func Acquire(c Capability, withVideo bool) (*LocalMedia, error) {
	audio, err := c.AcquireAudio()
	if err != nil {
		return nil, err
	}

	m := &LocalMedia{audio: audio}

	if !withVideo {
		return m, nil
	}

	if _, err := m.AddVideo(c); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			log.Info("no camera found, continuing audio-only")

			return m, nil
		}

		m.Stop()

		return nil, err
	}

	return m, nil
}

// AddVideo acquires the camera if not yet open. It returns the new track, or
// nil when video was already present.
func (m *LocalMedia) AddVideo(c Capability) (*Track, error) {
	if m.video != nil {
		return nil, nil
	}

	video, err := c.AcquireVideo()
	if err != nil {
		return nil, err
	}

	m.video = video

	return video, nil
}

func (m *LocalMedia) Audio() *Track {
	return m.audio
}

// Video is nil without a camera.
func (m *LocalMedia) Video() *Track {
	return m.video
}

func (m *LocalMedia) HasVideo() bool {
	return m.video != nil
}

// Tracks lists the tracks to attach to a session.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{m.audio.Local()}

	if m.video != nil {
		tracks = append(tracks, m.video.Local())
	}

	return tracks
}

// ToggleAudio mutes or unmutes the microphone and returns the new state.
func (m *LocalMedia) ToggleAudio() bool {
	return m.audio.Toggle()
}

// ToggleVideo is a no-op returning false when there is no camera.
func (m *LocalMedia) ToggleVideo() bool {
	if m.video == nil {
		return false
	}

	return m.video.Toggle()
}

func (m *LocalMedia) Stop() {
	if m.video != nil {
		m.video.Stop()
	}

	m.audio.Stop()
}
