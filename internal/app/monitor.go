package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/dco_calibrator/internal/calibrate"
	"github.com/relabs-tech/dco_calibrator/internal/config"
	"github.com/relabs-tech/dco_calibrator/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// MonitorStatus is the snapshot served on /api/status and pushed to
// websocket clients after every telemetry message.
type MonitorStatus struct {
	Stage      string                             `json:"stage"`
	Target     string                             `json:"target,omitempty"`
	Attempt    int                                `json:"attempt,omitempty"`
	Results    [store.NumSlots]*calibrate.Result  `json:"results"`
	Fault      *FaultEvent                        `json:"fault,omitempty"`
}

// wsClient serializes writes to one websocket connection. gorilla
// allows a single concurrent writer per connection, and frames come
// from both the hub fan-out and the handler's initial snapshot.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// monitorHub fans telemetry out to connected websocket clients.
type monitorHub struct {
	mu      sync.RWMutex
	status  MonitorStatus
	clients map[*wsClient]bool
}

func newMonitorHub() *monitorHub {
	return &monitorHub{clients: make(map[*wsClient]bool)}
}

func (h *monitorHub) update(f func(*MonitorStatus)) {
	h.mu.Lock()
	f(&h.status)
	payload, err := json.Marshal(h.status)
	if err != nil {
		h.mu.Unlock()
		log.Printf("monitor: status marshal error: %v", err)
		return
	}
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.drop(c)
		}
	}
}

func (h *monitorHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *monitorHub) drop(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

func (h *monitorHub) snapshot() MonitorStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// RunMonitor subscribes to calibration telemetry and serves it to
// browsers over HTTP and websocket.
func RunMonitor() error {
	cfg := config.Get()
	hub := newMonitorHub()

	// 1) Connect to MQTT broker on the station
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDMonitor)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("monitor: connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to the three calibration topics
	if err := subscribeMonitor(client, cfg, hub); err != nil {
		return err
	}

	// 3) Websocket endpoint: push a status frame on every update
	http.HandleFunc("/ws", wsHandler(hub))

	// 4) JSON API endpoint: latest status
	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		snap := hub.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Printf("monitor: json encode error: %v", err)
		}
	})

	// 5) Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("monitor: web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}

// wsHandler upgrades a client and streams it status frames: the
// current snapshot immediately, then one frame per hub update.
func wsHandler(hub *monitorHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("monitor: websocket upgrade error: %v", err)
			return
		}
		cl := &wsClient{conn: conn}
		hub.add(cl)

		if payload, err := json.Marshal(hub.snapshot()); err == nil {
			if err := cl.write(payload); err != nil {
				hub.drop(cl)
				return
			}
		}

		// Drain client frames so pings keep the connection alive.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hub.drop(cl)
					return
				}
			}
		}()
	}
}

func subscribeMonitor(client mqtt.Client, cfg *config.Config, hub *monitorHub) error {
	token := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev ProgressEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("monitor: progress unmarshal error: %v", err)
			return
		}
		hub.update(func(s *MonitorStatus) {
			s.Stage = ev.Stage
			s.Target = ev.Target
			s.Attempt = ev.Attempt
			if ev.Stage == "start" {
				s.Fault = nil
			}
		})
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("monitor: subscribed to %s", cfg.TopicProgress)

	token = client.Subscribe(cfg.TopicResult, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r calibrate.Result
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("monitor: result unmarshal error: %v", err)
			return
		}
		if r.Target.Slot < 0 || r.Target.Slot >= store.NumSlots {
			log.Printf("monitor: result for unknown slot %d", r.Target.Slot)
			return
		}
		hub.update(func(s *MonitorStatus) {
			s.Results[r.Target.Slot] = &r
		})
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("monitor: subscribed to %s", cfg.TopicResult)

	token = client.Subscribe(cfg.TopicFault, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f FaultEvent
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("monitor: fault unmarshal error: %v", err)
			return
		}
		hub.update(func(s *MonitorStatus) {
			s.Stage = "fault"
			s.Fault = &f
		})
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("monitor: subscribed to %s", cfg.TopicFault)

	return nil
}
