// Command simulator publishes ClassGuard sensor telemetry for testing the
// monitor without a physical device.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/classguard/monitor/model"
)

// channel simulates one sensor as a gaussian random walk around a mean.
type channel struct {
	mean   float64
	stddev float64
	min    float64
	max    float64
	value  float64
}

func newChannel(mean, stddev, min, max float64) *channel {
	return &channel{mean: mean, stddev: stddev, min: min, max: max, value: mean}
}

// next drifts the value and pulls it gently back toward the mean.
func (c *channel) next() float64 {
	c.value += rand.NormFloat64() * c.stddev
	c.value += (c.mean - c.value) * 0.1
	if c.value < c.min {
		c.value = c.min
	}
	if c.value > c.max {
		c.value = c.max
	}
	return c.value
}

type simulatedDevice struct {
	id          string
	temperature *channel
	humidity    *channel
	co2         *channel
	light       *channel
	noise       *channel
}

func newDevice(n int) *simulatedDevice {
	return &simulatedDevice{
		id:          fmt.Sprintf("ESP32_CLASSGUARD_SIM%02d", n),
		temperature: newChannel(26, 0.8, 15, 45),
		humidity:    newChannel(60, 2.5, 20, 100),
		co2:         newChannel(650, 60, 350, 4000),
		light:       newChannel(450, 40, 0, 2000),
		noise:       newChannel(55, 4, 30, 120),
	}
}

func (d *simulatedDevice) reading() model.SensorReading {
	r := model.SensorReading{
		DeviceID:    d.id,
		Temperature: d.temperature.next(),
		Humidity:    d.humidity.next(),
		CO2:         d.co2.next(),
		Light:       d.light.next(),
		Noise:       d.noise.next(),
		Timestamp:   time.Now().UTC(),
	}
	r.AQI = r.CO2 / 10
	r.ClassScore = score(r)
	r.Status = status(r.ClassScore)
	return r
}

// score grades the classroom conditions from 0 to 100.
func score(r model.SensorReading) int {
	s := 100
	if r.CO2 > 1000 {
		s -= 25
	}
	if r.Temperature > 35 {
		s -= 20
	}
	if r.Humidity > 80 {
		s -= 15
	}
	if r.Noise > 70 {
		s -= 25
	}
	if r.Light < 300 {
		s -= 15
	}
	if s < 0 {
		s = 0
	}
	return s
}

func status(score int) string {
	switch {
	case score >= 80:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Poor"
	}
}

func main() {
	broker := flag.String("broker", "tcp://broker.hivemq.com:1883", "MQTT broker address")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	topic := flag.String("topic", "classguard/sensors", "sensor topic")
	controlTopic := flag.String("control-topic", "classguard/control", "control topic to watch")
	devices := flag.Int("devices", 1, "number of simulated devices")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	mode := flag.String("mode", "continuous", "run mode: single, continuous")
	flag.Parse()

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID("ESP32_CLASSGUARD_" + uuid.NewString()[:8])
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("connected to MQTT broker: %s\n", *broker)

	// Echo control commands so actuation is visible during testing.
	client.Subscribe(*controlTopic, 0, func(_ paho.Client, msg paho.Message) {
		fmt.Printf("control command received: %s\n", msg.Payload())
	})

	sims := make([]*simulatedDevice, 0, *devices)
	for i := 0; i < *devices; i++ {
		sims = append(sims, newDevice(i+1))
	}

	publishAll := func() {
		for _, d := range sims {
			payload, err := json.Marshal(d.reading())
			if err != nil {
				fmt.Printf("failed to serialize reading: %v\n", err)
				continue
			}
			if token := client.Publish(*topic, 0, false, payload); token.Wait() && token.Error() != nil {
				fmt.Printf("publish failed: %v\n", token.Error())
				continue
			}
			fmt.Printf("published: %s\n", payload)
		}
	}

	switch *mode {
	case "single":
		publishAll()
		client.Disconnect(250)
		return
	case "continuous":
		// fall through to the loop below
	default:
		fmt.Println("unknown mode, use single or continuous")
		os.Exit(1)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			publishAll()
		case <-sigChan:
			client.Disconnect(250)
			fmt.Println("simulator stopped")
			return
		}
	}
}
