package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt5 "github.com/golang-io/mqtt5"
)

var (
	server = flag.String("server", "mqtt://127.0.0.1:1883", "broker url")
	filter = flag.String("filter", "#", "topic filter")
	qos    = flag.Int("qos", 2, "maximum qos (0-2)")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := mqtt5.New(mqtt5.URL(*server), mqtt5.KeepAlive(30))
	if _, err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}

	rsp, err := c.Subscribe(ctx, mqtt5.SubscribeOptions{TopicFilter: *filter, MaximumQoS: uint8(*qos)})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	log.Printf("subscribed: filter=%s, reasons=%v", *filter, rsp.ReasonCodes)

	sign := make(chan os.Signal, 1)
	signal.Notify(sign, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case sig := <-sign:
			log.Printf("got sign: %s", sig)
			_ = c.Disconnect(ctx, mqtt5.DisconnectOptions{})
			return
		case pub, ok := <-rsp.Messages.C():
			if !ok {
				log.Printf("stream closed")
				return
			}
			log.Printf("received: %s", pub.Message)
		}
	}
}
