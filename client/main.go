package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MsgTypeLogin          = 2
	MsgTypeJoinQueue      = 101
	MsgTypeSubmitAnswer   = 201
	MsgTypeBattleAction   = 202
	MsgTypeMatchFound     = 301
	MsgTypeBattleSnapshot = 302
	MsgTypeBattleEnd      = 304
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

// Smoke client: logs in, queues for a course, then answers every round
// with a fixed choice so a full battle can be observed end to end
// (pair two of these, or let the bot fallback kick in).
func main() {
	user := flag.String("user", "smoke-user", "user id")
	course := flag.String("course", "course-1", "course id")
	choice := flag.Int("choice", 1, "answer index sent every round")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: "localhost:8080", Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	snapshots := make(chan map[string]interface{}, 16)

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 4 {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[4:]
			log.Printf("<- RECV (ID: %d): %s", msgID, string(data))

			switch msgID {
			case MsgTypeBattleSnapshot:
				var snap map[string]interface{}
				if json.Unmarshal(data, &snap) == nil {
					select {
					case snapshots <- snap:
					default:
					}
				}
			case MsgTypeBattleEnd:
				log.Println("Battle finished.")
			}
		}
	}()

	log.Printf("Logging in as %s...", *user)
	if err := send(c, MsgTypeLogin, map[string]string{"user_id": *user}); err != nil {
		log.Fatalf("Write error: %v", err)
	}
	log.Printf("Joining queue for %s...", *course)
	if err := send(c, MsgTypeJoinQueue, map[string]string{"course_id": *course}); err != nil {
		log.Fatalf("Write error: %v", err)
	}

	answered := make(map[float64]bool)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case snap := <-snapshots:
			// Auto-answer each new question round once.
			if snap["status"] != "question" {
				continue
			}
			round, ok := snap["round"].(map[string]interface{})
			if !ok {
				continue
			}
			idx, ok := round["index"].(float64)
			if !ok || answered[idx] {
				continue
			}
			answered[idx] = true
			log.Printf("-> Answering round %.0f with choice %d", idx, *choice)
			if err := send(c, MsgTypeSubmitAnswer, map[string]interface{}{
				"choice":    *choice,
				"timestamp": time.Now().UnixMilli(),
			}); err != nil {
				log.Println("Write error:", err)
				return
			}
		}
	}
}
