package main

import (
	"context"
	"flag"
	"log"
	"time"

	mqtt5 "github.com/golang-io/mqtt5"
)

var (
	server   = flag.String("server", "mqtt://127.0.0.1:1883", "broker url")
	topic    = flag.String("topic", "a/b/c", "topic name")
	payload  = flag.String("payload", "hello world", "message payload")
	qos      = flag.Int("qos", 0, "quality of service (0-2)")
	interval = flag.Duration("interval", time.Second, "publish interval")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := mqtt5.New(mqtt5.URL(*server), mqtt5.KeepAlive(30))
	if _, err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Disconnect(ctx, mqtt5.DisconnectOptions{})

	timer := time.NewTicker(*interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		err := c.Publish(ctx, mqtt5.PublishOptions{
			Topic:   *topic,
			Payload: []byte(*payload),
			QoS:     uint8(*qos),
		})
		if err != nil {
			log.Printf("publish: %v", err)
			return
		}
		log.Printf("published: topic=%s, qos=%d", *topic, *qos)
	}
}
