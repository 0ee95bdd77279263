package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusSampleRate    = 48000
)

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FileSource plays media files as a live capture.
type FileSource struct {
	// Video is the default IVF file (VP8, VP9 or AV1).
	Video string
	// Devices maps alternative DeviceIDs to IVF files.
	Devices map[string]string
	// Audio is an Ogg/Opus file. Empty means silence.
	Audio string

	LoggerFactory logging.LoggerFactory
}

// Acquire opens the requested inputs and starts feeding their tracks.
func (s *FileSource) Acquire(ctx context.Context, c Constraints) (Handle, error) {
	if !c.Video && !c.Audio {
		return nil, ErrNothingRequested
	}
	log := livelog.OrDefault(s.LoggerFactory).NewLogger("capture")

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel}
	streamID := "livecast-" + uuid.NewString()[:8]

	if c.Video {
		path, err := s.videoPath(c.DeviceID)
		if err != nil {
			cancel()
			return nil, err
		}
		track, play, err := openIVF(path, streamID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		h.tracks = append(h.tracks, track)
		h.run(func() {
			if err := play(runCtx); err != nil {
				log.Warnf("video playback stopped: %v", err)
			}
		})
	}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			h.Stop()
			return nil, err
		}
		h.tracks = append(h.tracks, track)

		if s.Audio == "" {
			h.run(func() { playSilence(runCtx, track) })
		} else {
			if _, err := os.Stat(s.Audio); err != nil {
				h.Stop()
				return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
			}
			h.run(func() {
				if err := playOgg(runCtx, s.Audio, track); err != nil {
					log.Warnf("audio playback stopped: %v", err)
				}
			})
		}
	}

	if err := ctx.Err(); err != nil {
		h.Stop()
		return nil, err
	}
	log.Debugf("acquired %d tracks (device %q)", len(h.tracks), c.DeviceID)
	return h, nil
}

func (s *FileSource) videoPath(deviceID string) (string, error) {
	if deviceID != "" {
		if p, ok := s.Devices[deviceID]; ok {
			return p, nil
		}
		return "", fmt.Errorf("%w: unknown device %q", ErrDeviceUnavailable, deviceID)
	}
	if s.Video == "" {
		return "", fmt.Errorf("%w: no video input configured", ErrDeviceUnavailable)
	}
	return s.Video, nil
}

func ivfMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported IVF codec %q", fourCC)
	}
}

// openIVF validates the file header and returns its track and player.
func openIVF(path, streamID string) (*webrtc.TrackLocalStaticSample, func(context.Context) error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	_, header, err := ivfreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, nil, err
	}
	mime, err := ivfMimeType(header.FourCC)
	if err != nil {
		return nil, nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
	if err != nil {
		return nil, nil, err
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	play := func(ctx context.Context) error {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		for {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			ivf, _, err := ivfreader.NewWith(f)
			if err != nil {
				f.Close()
				return err
			}

			for {
				frame, _, err := ivf.ParseNextFrame()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					f.Close()
					return err
				}
				select {
				case <-ctx.Done():
					f.Close()
					return nil
				case <-ticker.C:
				}
				if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
					f.Close()
					return err
				}
			}
			f.Close()
		}
	}
	return track, play, nil
}

func playOgg(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample) error {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			return err
		}

		var lastGranule uint64
		for {
			page, header, err := ogg.ParseNextPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				f.Close()
				return err
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(samples) * time.Second / opusSampleRate

			select {
			case <-ctx.Done():
				f.Close()
				return nil
			case <-ticker.C:
			}
			if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				f.Close()
				return err
			}
		}
		f.Close()
	}
}

func playSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// No bound sender just means no viewer yet.
			_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration})
		}
	}
}
