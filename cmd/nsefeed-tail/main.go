package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// nsefeed-tail connects to a running nsefeed-server and prints every batch
// frame it receives, one JSON array per line.
func main() {
	url := "ws://localhost:8080/ws"
	if u := os.Getenv("NSEFEED_WS"); u != "" {
		url = u
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for ctx.Err() == nil {
		if err := tail(ctx, url); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v, reconnecting\n", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func tail(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintf(os.Stderr, "connected to %s\n", url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		fmt.Println(string(msg))
	}
}
