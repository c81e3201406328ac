// Package main runs a demo WebSocket client for bulk job progress events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type progressEvent struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Submit a small background job from a CSV manifest
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("manifest", "manifest.csv")
	_, _ = fw.Write([]byte("origin code,origin name,destination code,destination name\nNAG,Nagpur,PUN,Pune\n"))
	_ = mw.WriteField("options", `{"backgroundProcessing":true}`)
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/bulk/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Owner-Id", "u_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var submitResp struct {
		JobID      string `json:"jobId"`
		TotalItems int    `json:"totalItems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		log.Fatal(err)
	}
	log.Printf("Job ID: %s (%d items)", submitResp.JobID, submitResp.TotalItems)

	// Connect WS and watch progress until the job finishes
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/bulk/jobs/progress/stream"}
	hdr := http.Header{}
	hdr.Set("X-Owner-Id", "u_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev progressEvent
			if err := c.ReadJSON(&ev); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", ev.Type, string(ev.State))
			if ev.Type == "finished" {
				return
			}
		}
	}()

	select {
	case <-time.After(60 * time.Second):
	case <-done:
	}
}
