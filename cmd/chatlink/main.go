// Command chatlink is a terminal client for the chat backend: text in,
// synthesized speech out, with live session management from the keyboard.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/yeyu-labs/chatlink/audio"
	"github.com/yeyu-labs/chatlink/client"
	"github.com/yeyu-labs/chatlink/config"
)

func main() {
	serverURL := flag.String("server", "", "WebSocket server URL (overrides SERVER_URL)")
	noAudio := flag.Bool("no-audio", false, "Disable sox playback and capture")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	opts := client.Options{
		Notifier: terminalNotifier{},
		Prompt: func(open bool) {
			if open {
				fmt.Println("🔑 A Gemini API key is required. Enter it with /key <value>")
			}
		},
	}
	if !*noAudio {
		opts.Output = audio.NewSoxOutput()
		opts.Capture = audio.NewSoxCapture()
	}

	eng := client.New(cfg, opts)
	eng.Start()
	defer eng.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\n👋 Closing...")
		eng.Close()
		os.Exit(0)
	}()

	fmt.Println("Type a message, or /help for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			runCommand(eng, line)
			continue
		}
		if err := eng.SendText(line); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	}
}

func runCommand(eng *client.Engine, line string) {
	parts := strings.SplitN(line, " ", 3)
	cmd := parts[0]
	arg := func(i int) string {
		if len(parts) > i {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}

	switch cmd {
	case "/help":
		fmt.Print(`Commands:
  /sessions            list sessions
  /new                 create a session and switch to it
  /use <id-prefix>     switch active session
  /rename <id> <name>  rename a session
  /delete <id-prefix>  delete a session
  /toggle <name> <on|off>  flip gemini, eval or grounding
  /key <value>         submit a Gemini API key
  /mic                 toggle microphone streaming
  /status              connection and toggle state
`)

	case "/sessions":
		active := eng.ActiveSessionID()
		for _, s := range eng.Sessions() {
			marker := " "
			if s.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %.8s  %s (%d messages)\n", marker, s.ID, s.Name, len(s.Messages))
		}

	case "/new":
		id := eng.CreateSession()
		eng.SetActiveSession(id)
		fmt.Printf("📂 Switched to new session %.8s\n", id)

	case "/use":
		if id := resolveSession(eng, arg(1)); id != "" {
			eng.SetActiveSession(id)
			fmt.Printf("📂 Active session: %.8s\n", id)
		}

	case "/rename":
		if id := resolveSession(eng, arg(1)); id != "" {
			if err := eng.RenameSession(id, arg(2)); err != nil {
				fmt.Printf("❌ %v\n", err)
			}
		}

	case "/delete":
		if id := resolveSession(eng, arg(1)); id != "" {
			if err := eng.DeleteSession(id); err != nil {
				fmt.Printf("❌ %v\n", err)
			}
		}

	case "/toggle":
		enabled := arg(2) == "on"
		if arg(2) != "on" && arg(2) != "off" {
			fmt.Println("Usage: /toggle <gemini|eval|grounding> <on|off>")
			return
		}
		if err := eng.RequestToggle(arg(1), enabled); err != nil {
			fmt.Printf("❌ %v\n", err)
		}

	case "/key":
		if err := eng.SubmitAPIKey(arg(1)); err != nil {
			fmt.Printf("❌ %v\n", err)
		}

	case "/mic":
		if eng.MicStreaming() {
			eng.StopMicStreaming()
			fmt.Println("🎤 Microphone off.")
		} else if err := eng.StartMicStreaming(); err != nil {
			fmt.Printf("❌ %v\n", err)
		} else {
			fmt.Println("🎤 Microphone on.")
		}

	case "/status":
		t := eng.Toggles()
		fmt.Printf("Connection: %s  Key confirmed: %v\n", eng.State(), eng.APIKeyConfirmed())
		fmt.Printf("Toggles: gemini=%v eval=%v grounding=%v\n", t.UseGemini, t.EvalMode, t.GroundingMode)
		fmt.Printf("Playback level: %d  Input level: %d\n", eng.PlaybackLevel(), eng.InputLevel())

	default:
		fmt.Println("Unknown command. Try /help.")
	}
}

// resolveSession matches a session by id prefix.
func resolveSession(eng *client.Engine, prefix string) string {
	if prefix == "" {
		fmt.Println("Usage: give a session id prefix (see /sessions).")
		return ""
	}
	for _, s := range eng.Sessions() {
		if strings.HasPrefix(s.ID, prefix) {
			return s.ID
		}
	}
	fmt.Printf("❌ No session matching %q\n", prefix)
	return ""
}

type terminalNotifier struct{}

func (terminalNotifier) Alert(msg string) { fmt.Printf("🔔 %s\n", msg) }
