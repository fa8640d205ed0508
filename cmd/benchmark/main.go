// 压测入口: 用本库起N个并发会话向同一broker发布
// 对照组在paho.go里，用eclipse paho客户端跑同样的负载。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	mqtt5 "github.com/golang-io/mqtt5"
	"golang.org/x/sync/errgroup"
)

var (
	server  = flag.String("server", "mqtt://127.0.0.1:1883", "broker url")
	clients = flag.Int("clients", 100, "number of concurrent clients")
	usePaho = flag.Bool("paho", false, "drive the paho client instead")
)

func main() {
	flag.Parse()

	if *usePaho {
		pahoStart(*server, *clients)
		return
	}

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *clients; i++ {
		i := i
		group.Go(func() error {
			c := mqtt5.New(mqtt5.URL(*server), mqtt5.ClientID(fmt.Sprintf("bench-%d", i)), mqtt5.KeepAlive(30))
			if _, err := c.Connect(ctx); err != nil {
				return err
			}
			rsp, err := c.Subscribe(ctx, mqtt5.SubscribeOptions{TopicFilter: "+"})
			if err != nil {
				return err
			}
			group.Go(func() error {
				for pub := range rsp.Messages.C() {
					log.Printf("id=%s, msg=%s", c.ID(), pub.Message)
				}
				return nil
			})

			timer := time.NewTicker(1 * time.Second)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					err := c.Publish(ctx, mqtt5.PublishOptions{
						Topic:   fmt.Sprintf("topic-%d", i),
						Payload: []byte("hello world"),
					})
					if err != nil {
						return err
					}
				}
			}
		})
	}
	if err := group.Wait(); err != nil {
		panic(err)
	}
}
