// cmd/flowctl is an interactive console for a running module: it dials
// the websocket link, relays command frames, and provides helpers that
// wrap the stream commands (ruleset install, debug watch, OTA).
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/google/shlex"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"canflow-go/wbp"
)

const chunkSize = 512

type session struct {
	conn *websocket.Conn
}

func (s *session) send(msg string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *session) sendBytes(p []byte) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, p)
}

// stream sends an opener, the body in chunks, and the END sentinel.
func (s *session) stream(opener string, body []byte) error {
	if err := s.send(opener); err != nil {
		return err
	}
	for off := 0; off < len(body); off += chunkSize {
		end := off + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if err := s.sendBytes(body[off:end]); err != nil {
			return err
		}
		time.Sleep(2 * time.Millisecond)
	}
	return s.send("END")
}

func (s *session) handle(line string) {
	fields, err := shlex.Split(line)
	if err != nil || len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "rules":
		if len(fields) < 2 {
			fmt.Println("usage: rules <file.wbp> [nvs]")
			return
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		target := "RAM"
		if len(fields) > 2 && fields[2] == "nvs" {
			target = "NVS"
		}
		opener := fmt.Sprintf("SET:RULES:%s:%d:%d", target, len(data), wbp.CRC32(data))
		if err := s.stream(opener, data); err != nil {
			fmt.Println("error:", err)
		}

	case "watch":
		if len(fields) < 2 {
			fmt.Println("usage: watch <defs>")
			return
		}
		body := []byte(fields[1])
		opener := fmt.Sprintf("DEBUG:WATCH:%d:%d", len(body), wbp.CRC32(body))
		if err := s.stream(opener, body); err != nil {
			fmt.Println("error:", err)
		}

	case "ota":
		if len(fields) < 2 {
			fmt.Println("usage: ota <image.bin>")
			return
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		opener := fmt.Sprintf("OTA:BEGIN:%d:%08x", len(data), wbp.CRC32(data))
		if err := s.stream(opener, data); err != nil {
			fmt.Println("error:", err)
		}

	default:
		// Raw grammar passthrough (GET:PROFILE, DEBUG:START, ...).
		if err := s.send(line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func main() {
	var url string

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "module console",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return err
			}
			defer conn.Close()
			s := &session{conn: conn}

			go func() {
				for {
					_, data, err := conn.ReadMessage()
					if err != nil {
						fmt.Println("\nlink closed:", err)
						os.Exit(0)
					}
					fmt.Printf("< %s\n", printable(data))
				}
			}()

			fmt.Println("connected; raw commands pass through, helpers: rules, watch, ota")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if line == "quit" || line == "exit" {
					return nil
				}
				s.handle(line)
			}
			return scanner.Err()
		},
	}
	root.Flags().StringVarP(&url, "url", "u", "ws://127.0.0.1:8775/link", "module link URL")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// printable renders incoming frames, hex-dumping binary chunks.
func printable(data []byte) string {
	for _, b := range data {
		if b < 0x09 || b > 0x7E {
			return fmt.Sprintf("[% X]", data)
		}
	}
	return string(data)
}
