package client

import (
	"encoding/base64"
	"log"

	"github.com/yeyu-labs/chatlink/audio"
)

// StartMicStreaming begins capturing microphone PCM and forwarding each
// chunk to the backend as a realtime_input frame.
func (e *Engine) StartMicStreaming() error {
	if e.capture == nil {
		return ErrNoCaptureDevice
	}

	e.mu.Lock()
	if e.capturing {
		e.mu.Unlock()
		return nil
	}
	e.capturing = true
	e.mu.Unlock()

	frames, err := e.capture.Start()
	if err != nil {
		e.mu.Lock()
		e.capturing = false
		e.mu.Unlock()
		log.Printf("❌ Microphone start failed: %v", err)
		e.notify.Alert("Could not start microphone: " + err.Error())
		return err
	}

	e.mu.Lock()
	e.captureCh = frames
	e.mu.Unlock()

	log.Println("🎤 Microphone streaming started.")
	go e.pumpMic(frames)
	e.change()
	return nil
}

// StopMicStreaming releases the capture device deterministically so the
// next start gets a clean device.
func (e *Engine) StopMicStreaming() {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return
	}
	e.capturing = false
	e.captureCh = nil
	e.inputLevel = 0
	e.mu.Unlock()

	if err := e.capture.Stop(); err != nil {
		log.Printf("⚠️ Microphone stop: %v", err)
	}
	log.Println("🎤 Microphone streaming stopped.")
	e.change()
}

// MicStreaming reports whether capture is active.
func (e *Engine) MicStreaming() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.capturing
}

// pumpMic drains capture frames until the device channel closes. A device
// fault mid-stream forces the mic off rather than leaving the UI showing a
// live capture that is not happening.
func (e *Engine) pumpMic(frames <-chan audio.Frame) {
	for frame := range frames {
		e.mu.Lock()
		if !e.capturing || e.captureCh == nil {
			e.mu.Unlock()
			return
		}
		e.inputLevel = frame.Level
		e.mu.Unlock()

		chunk := base64.StdEncoding.EncodeToString(frame.PCM)
		if err := e.SendMediaChunk("audio/pcm", chunk); err != nil {
			log.Printf("⚠️ Audio chunk not sent: %v", err)
		}
	}

	// Channel closed underneath us: device fault or external stop.
	e.mu.Lock()
	faulted := e.capturing
	e.capturing = false
	e.captureCh = nil
	e.inputLevel = 0
	e.mu.Unlock()

	if faulted {
		log.Println("⚠️ Capture device stopped unexpectedly.")
		e.notify.Alert("Microphone stopped unexpectedly.")
		e.change()
	}
}
