// Package gemini wraps the Live API session used by the development backend:
// realtime PCM in, synthesized speech and transcriptions out.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"
)

const (
	liveModelName  = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	probeModelName = "gemini-2.5-flash"
)

// Proxy manages one Live API session. Callbacks are invoked from the
// receive goroutine; set them before StartReceiving.
type Proxy struct {
	client  *genai.Client
	session *genai.Session

	OnAudioRaw            func(base64Data string)
	OnText                func(text string)
	OnInputTranscription  func(text string)
	OnOutputTranscription func(text string)
	OnInterrupted         func()
	OnComplete            func()
	OnError               func(err error)

	mu     sync.RWMutex
	closed bool
}

// NewProxy creates the API client. The session is established by Setup.
func NewProxy(ctx context.Context, apiKey string) (*Proxy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Proxy{client: client}, nil
}

// ValidateKey checks a credential by issuing a minimal generation request.
func ValidateKey(ctx context.Context, apiKey string) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if _, err := client.Models.GenerateContent(ctx, probeModelName, genai.Text("ping"), nil); err != nil {
		return fmt.Errorf("key validation failed: %w", err)
	}
	return nil
}

// Setup establishes the Live session. When grounding is on, the session
// carries the Google Search tool.
func (gp *Proxy) Setup(ctx context.Context, systemPrompt string, grounding bool) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return fmt.Errorf("proxy is closed")
	}

	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: "Zephyr",
				},
			},
		},
	}
	if grounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	session, err := gp.client.Live.Connect(ctx, liveModelName, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Live API: %w", err)
	}

	gp.session = session
	log.Printf("✅ Connected to Gemini Live (%s, grounding=%v)", liveModelName, grounding)
	return nil
}

// StartReceiving begins draining the session in a goroutine.
func (gp *Proxy) StartReceiving(ctx context.Context) {
	go func() {
		for {
			gp.mu.RLock()
			if gp.closed || gp.session == nil {
				gp.mu.RUnlock()
				return
			}
			session := gp.session
			gp.mu.RUnlock()

			resp, err := session.Receive()
			if err != nil {
				gp.mu.RLock()
				closed := gp.closed
				gp.mu.RUnlock()

				if !closed {
					log.Printf("❌ Gemini receive error: %v", err)
					if gp.OnError != nil {
						gp.OnError(err)
					}
				}
				return
			}

			gp.handleResponse(resp)
		}
	}()
}

func (gp *Proxy) handleResponse(resp *genai.LiveServerMessage) {
	sc := resp.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted && gp.OnInterrupted != nil {
		log.Println("📥 Gemini generation interrupted")
		gp.OnInterrupted()
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" && gp.OnInputTranscription != nil {
		gp.OnInputTranscription(sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" && gp.OnOutputTranscription != nil {
		gp.OnOutputTranscription(sc.OutputTranscription.Text)
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" && gp.OnText != nil {
				gp.OnText(part.Text)
			}
			if part.InlineData != nil && gp.OnAudioRaw != nil {
				gp.OnAudioRaw(base64.StdEncoding.EncodeToString(part.InlineData.Data))
			}
		}
	}

	if sc.TurnComplete && gp.OnComplete != nil {
		gp.OnComplete()
	}
}

// SendText submits one user text turn.
func (gp *Proxy) SendText(text string) error {
	gp.mu.RLock()
	session := gp.session
	closed := gp.closed
	gp.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("proxy is closed or not connected")
	}

	turnComplete := true
	err := session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{Role: "user", Parts: []*genai.Part{{Text: text}}},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// SendAudio forwards one 16 kHz PCM chunk into the live stream.
func (gp *Proxy) SendAudio(pcm []byte) error {
	gp.mu.RLock()
	session := gp.session
	closed := gp.closed
	gp.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("proxy is closed or not connected")
	}

	err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: "audio/pcm;rate=16000",
			Data:     pcm,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendAudioBase64 decodes and forwards a base64 PCM chunk.
func (gp *Proxy) SendAudioBase64(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid base64: %w", err)
	}
	return gp.SendAudio(data)
}

// Close terminates the Live session.
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
