package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/dco_calibrator/internal/calibrate"
	"github.com/relabs-tech/dco_calibrator/internal/config"
)

// DisplayData holds the latest telemetry for display
type DisplayData struct {
	mu sync.RWMutex

	stage      string
	target     string
	attempt    int
	haveStage  bool

	lastResult calibrate.Result
	haveResult bool
	doneCount  int

	fault     FaultEvent
	haveFault bool
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	// The driver fixes the panel's I2C address at 0x3C.
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized 128x64 panel")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	// Data storage
	data := &DisplayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeDisplay(client, data, cfg); err != nil {
		return fmt.Errorf("failed to subscribe for display: %w", err)
	}

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		// Read data without copying the mutex
		data.mu.RLock()
		snapshot := DisplayData{
			stage:      data.stage,
			target:     data.target,
			attempt:    data.attempt,
			haveStage:  data.haveStage,
			lastResult: data.lastResult,
			haveResult: data.haveResult,
			doneCount:  data.doneCount,
			fault:      data.fault,
			haveFault:  data.haveFault,
		}
		data.mu.RUnlock()

		if err := updateDisplay(dev, &snapshot); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func subscribeDisplay(client mqtt.Client, data *DisplayData, cfg *config.Config) error {
	token := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev ProgressEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("display: progress unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.stage = ev.Stage
		data.target = ev.Target
		data.attempt = ev.Attempt
		data.haveStage = true
		if ev.Stage == "start" && ev.Target == calibrate.Targets[0].Label {
			data.doneCount = 0
			data.haveFault = false
		}
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicProgress)

	token = client.Subscribe(cfg.TopicResult, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r calibrate.Result
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("display: result unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.lastResult = r
		data.haveResult = true
		data.doneCount++
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicResult)

	token = client.Subscribe(cfg.TopicFault, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f FaultEvent
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("display: fault unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.fault = f
		data.haveFault = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicFault)

	return nil
}

func updateDisplay(dev *ssd1306.Dev, data *DisplayData) error {
	img := renderStatus(data)
	return dev.Draw(dev.Bounds(), img, image.Point{})
}

// renderStatus draws the status screen for one telemetry snapshot.
func renderStatus(data *DisplayData) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	switch {
	case data.haveFault:
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte("DCO CAL FAULT"))
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("code %d", data.fault.Code)))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(truncateLine(data.fault.Message)))

	case !data.haveStage:
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("DCO Calibrator"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))

	default:
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("%-7s %s", data.stage, data.target)))
		if data.attempt > 0 {
			drawer.Dot = fixed.P(0, 26)
			drawer.DrawBytes([]byte(fmt.Sprintf("try %d/%d", data.attempt, calibrate.DefaultMaxAttempts)))
		}
		if data.haveResult {
			r := data.lastResult
			drawer.Dot = fixed.P(0, 39)
			drawer.DrawBytes([]byte(fmt.Sprintf("%s %+d%%", r.Target.Label, r.ErrorPct)))
			drawer.Dot = fixed.P(0, 52)
			drawer.DrawBytes([]byte(fmt.Sprintf("done %d/9", data.doneCount)))
		}
	}

	return img
}

// truncateLine clips a message to what fits on a 128px row of 7px glyphs.
func truncateLine(s string) string {
	const maxChars = 18
	if len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

func showSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte("DCO Calibrator"))
	drawer.Dot = fixed.P(0, 39)
	drawer.DrawBytes([]byte("Relabs Tech"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
