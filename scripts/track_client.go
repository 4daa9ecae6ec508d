//go:build ignore

// Track client creates a demo route and replays a short drive past its houses over the
// tracking socket, printing every proximity alert. Run with: go run scripts/track_client.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type      string    `json:"type"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Granted   bool      `json:"granted,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body := []byte(`{"name":"demo","teamId":"t_demo","date":"2024-09-05","houses":[
		{"address":"1 Elm St","lat":40.0000,"lng":-75.0000},
		{"address":"3 Elm St","lat":40.0005,"lng":-75.0000}]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/routes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "u_demo")
	req.Header.Set("X-Team-Id", "t_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var created struct {
		RouteID string `json:"routeId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.RouteID == "" {
		log.Fatalf("create route: status %d: %v", resp.StatusCode, err)
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/routes/" + created.RouteID + "/track"}
	q := u.Query()
	q.Set("access_token", "u_demo:t_demo")
	u.RawQuery = q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Println(string(msg))
		}
	}()

	start := time.Now().UTC()
	for i := 0; i < 12; i++ {
		f := frame{
			Type:      "sample",
			Lat:       39.9990 + float64(i)*0.0002,
			Lng:       -75.0000,
			Timestamp: start.Add(time.Duration(i) * 5 * time.Second),
		}
		if err := conn.WriteJSON(f); err != nil {
			log.Fatal(err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	time.Sleep(time.Second)
}
