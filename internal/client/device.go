package client

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lexiqai/voice-agent/internal/audio"
)

// Device is a malgo audio device that plays clips and, when opened for
// capture, delivers microphone PCM (S16LE mono) in the same callback.
type Device struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	rate   int

	mu   sync.Mutex
	pcm  []byte
	done func()

	capture *capturePump
}

// OpenDevice starts the default device at sampleRate. With capture set the
// device runs in duplex mode and Frames yields microphone audio.
func OpenDevice(sampleRate int, capture bool) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	// 20ms frames, two seconds of backlog
	d := &Device{
		mctx:    mctx,
		rate:    sampleRate,
		capture: newCapturePump(sampleRate*4, sampleRate/25),
	}
	go d.capture.run()

	kind := malgo.Playback
	if capture {
		kind = malgo.Duplex
	}
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	if capture {
		deviceConfig.Capture.Format = malgo.FormatS16
		deviceConfig.Capture.Channels = 1
	}
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to init audio device: %w", err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start audio device: %w", err)
	}
	return d, nil
}

func (d *Device) onSamples(pOutput, pInput []byte, _ uint32) {
	d.capture.push(pInput)
	if pOutput == nil {
		return
	}

	d.mu.Lock()
	n := copy(pOutput, d.pcm)
	d.pcm = d.pcm[n:]
	clear(pOutput[n:])

	var done func()
	if len(d.pcm) == 0 && d.done != nil {
		done, d.done = d.done, nil
	}
	d.mu.Unlock()

	if done != nil {
		go done()
	}
}

// Frames returns captured microphone frames. It is closed by Close.
func (d *Device) Frames() <-chan []byte {
	return d.capture.frames
}

// Play replaces whatever is playing with clip.
func (d *Device) Play(clip []byte, done func()) error {
	pcm, err := audio.DecodeClip(clip, d.rate)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.pcm = pcm
	d.done = done
	d.mu.Unlock()
	return nil
}

// Stop silences playback immediately; the pending done is discarded.
func (d *Device) Stop() {
	d.mu.Lock()
	d.pcm = nil
	d.done = nil
	d.mu.Unlock()
}

// Close stops the device and releases the audio context.
func (d *Device) Close() {
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	d.capture.stop()
	if d.mctx != nil {
		_ = d.mctx.Uninit()
		d.mctx.Free()
		d.mctx = nil
	}
}

// Discard is a Player for machines without audio output. Every clip
// finishes as soon as it starts.
type Discard struct{}

func (Discard) Play(_ []byte, done func()) error {
	go done()
	return nil
}

func (Discard) Stop() {}
