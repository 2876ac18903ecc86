// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDCal     string
	MQTTClientIDMonitor string
	MQTTClientIDDisplay string

	// Topics
	TopicProgress string
	TopicResult   string
	TopicFault    string

	// Probe link
	ProbeSerialPort string
	ProbeBaudRate   int

	// Optional GPS reference cross-check
	GPSSerialPort string
	GPSBaudRate   int
	GPSFixTimeout int // seconds

	// Panel
	LEDRedPin   string
	LEDGreenPin string
	ButtonPin   string

	// Display
	DisplayUpdateInterval int // milliseconds

	// Sampling
	CaptureWindow int // samples averaged per measurement (0 = default of 50)
	CaptureSettle int // samples discarded after reprogramming (0 = default of 5)

	// Calibration policy
	MaxErrorPct int // tolerance, percent (0 = default of 5)
	MaxCycles   int // search attempts per target (0 = default of 10)

	// Modes
	FlashOverride bool // recalibrate over a populated store
	TestMode      bool // keep results off the target's flash
	UseSimulator  bool // replace the probe with the DCO model

	// Bench store
	SegmentImagePath string // segment image file used in test mode

	// Web monitor
	WebServerPort int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot access it directly.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: RWMutex protects concurrent access.
//
// External code must use InitGlobal() to set and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Defaults for keys a station can run without
	if cfg.MQTTClientIDCal == "" {
		cfg.MQTTClientIDCal = "dco-calibrator"
	}
	if cfg.MQTTClientIDMonitor == "" {
		cfg.MQTTClientIDMonitor = "dco-monitor"
	}
	if cfg.MQTTClientIDDisplay == "" {
		cfg.MQTTClientIDDisplay = "dco-display"
	}
	if cfg.TopicProgress == "" {
		cfg.TopicProgress = "dco/progress"
	}
	if cfg.TopicResult == "" {
		cfg.TopicResult = "dco/result"
	}
	if cfg.TopicFault == "" {
		cfg.TopicFault = "dco/fault"
	}
	if cfg.DisplayUpdateInterval == 0 {
		cfg.DisplayUpdateInterval = 250
	}
	if cfg.GPSFixTimeout == 0 {
		cfg.GPSFixTimeout = 60
	}
	if cfg.WebServerPort == 0 {
		cfg.WebServerPort = 8080
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CALIBRATOR":
		c.MQTTClientIDCal = value
	case "MQTT_CLIENT_ID_MONITOR":
		c.MQTTClientIDMonitor = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_RESULT":
		c.TopicResult = value
	case "TOPIC_FAULT":
		c.TopicFault = value

	// Probe link
	case "PROBE_SERIAL_PORT":
		c.ProbeSerialPort = value
	case "PROBE_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PROBE_BAUD_RATE %q: %w", value, err)
		}
		c.ProbeBaudRate = rate

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate
	case "GPS_FIX_TIMEOUT":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_FIX_TIMEOUT %q: %w", value, err)
		}
		c.GPSFixTimeout = secs

	// Panel
	case "LED_RED_PIN":
		c.LEDRedPin = value
	case "LED_GREEN_PIN":
		c.LEDGreenPin = value
	case "BUTTON_PIN":
		c.ButtonPin = value

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	// Sampling
	case "CAPTURE_WINDOW":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CAPTURE_WINDOW %q: %w", value, err)
		}
		if n < 0 || n > 1000 {
			return fmt.Errorf("CAPTURE_WINDOW must be 0-1000, got %d", n)
		}
		c.CaptureWindow = n
	case "CAPTURE_SETTLE":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CAPTURE_SETTLE %q: %w", value, err)
		}
		if n < 0 || n > 100 {
			return fmt.Errorf("CAPTURE_SETTLE must be 0-100, got %d", n)
		}
		c.CaptureSettle = n

	// Calibration policy
	case "MAX_ERROR_PCT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAX_ERROR_PCT %q: %w", value, err)
		}
		if n < 0 || n > 50 {
			return fmt.Errorf("MAX_ERROR_PCT must be 0-50, got %d", n)
		}
		c.MaxErrorPct = n
	case "MAX_CYCLES":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAX_CYCLES %q: %w", value, err)
		}
		if n < 0 || n > 100 {
			return fmt.Errorf("MAX_CYCLES must be 0-100, got %d", n)
		}
		c.MaxCycles = n

	// Modes
	case "FLASH_OVERRIDE":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid FLASH_OVERRIDE %q: %w", value, err)
		}
		c.FlashOverride = b
	case "TEST_MODE":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid TEST_MODE %q: %w", value, err)
		}
		c.TestMode = b
	case "USE_SIMULATOR":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid USE_SIMULATOR %q: %w", value, err)
		}
		c.UseSimulator = b

	// Bench store
	case "SEGMENT_IMAGE_PATH":
		c.SegmentImagePath = value

	// Web monitor
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.UseSimulator {
		if c.ProbeSerialPort == "" {
			return fmt.Errorf("PROBE_SERIAL_PORT is required unless USE_SIMULATOR is set")
		}
		if c.ProbeBaudRate == 0 {
			return fmt.Errorf("PROBE_BAUD_RATE is required unless USE_SIMULATOR is set")
		}
	}
	if c.GPSSerialPort != "" && c.GPSBaudRate == 0 {
		return fmt.Errorf("GPS_BAUD_RATE is required when GPS_SERIAL_PORT is set")
	}
	if c.TestMode && c.SegmentImagePath == "" {
		return fmt.Errorf("SEGMENT_IMAGE_PATH is required in TEST_MODE")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
