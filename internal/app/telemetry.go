// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/dco_calibrator/internal/calibrate"
	"github.com/relabs-tech/dco_calibrator/internal/config"
)

// ProgressEvent is published on the progress topic for every stage of
// a calibration run.
type ProgressEvent struct {
	Stage   string `json:"stage"` // "start", "retry", "done", "commit"
	Target  string `json:"target,omitempty"`
	Hz      uint32 `json:"hz,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// FaultEvent is published on the fault topic when a run aborts.
type FaultEvent struct {
	Code    int    `json:"code"` // indicator blink code, 0 for startup faults
	Message string `json:"message"`
}

// publisher wraps the MQTT client used for calibration telemetry.
type publisher struct {
	client mqtt.Client
	cfg    *config.Config
}

func newPublisher(cfg *config.Config) (*publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDCal)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("calibrate: connected to MQTT broker at %s", cfg.MQTTBroker)
	return &publisher{client: client, cfg: cfg}, nil
}

func (p *publisher) close() {
	p.client.Disconnect(250)
}

func (p *publisher) publish(topic string, retain bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("calibrate: telemetry marshal error: %v", err)
		return
	}
	p.client.Publish(topic, 0, retain, payload)
}

func (p *publisher) progress(stage string, t calibrate.Target, attempt int) {
	p.publish(p.cfg.TopicProgress, false, ProgressEvent{
		Stage:   stage,
		Target:  t.Label,
		Hz:      t.Hz,
		Attempt: attempt,
	})
}

// result events are retained so the monitor sees the last run after a
// late subscribe.
func (p *publisher) result(r calibrate.Result) {
	p.publish(p.cfg.TopicResult, true, r)
}

func (p *publisher) fault(code int, msg string) {
	p.publish(p.cfg.TopicFault, true, FaultEvent{Code: code, Message: msg})
}
