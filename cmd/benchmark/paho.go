package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/requests"
)

// pahoStart 对照组: 同样的连接/订阅/发布负载跑在eclipse paho客户端上
func pahoStart(server string, clients int) {
	addr := strings.Replace(server, "mqtt://", "tcp://", 1)
	for i := 0; i < clients; i++ {
		go func(i int) {
			id := requests.GenId()
			connOpts := paho_mqtt.NewClientOptions().AddBroker(addr).SetClientID(id).SetCleanSession(true)
			client := paho_mqtt.NewClient(connOpts)
			if token := client.Connect(); token.Wait() && token.Error() != nil {
				log.Printf("paho connect: %v", token.Error())
				return
			}
			if token := client.Subscribe("+", 0, onMessageReceived); token.Wait() && token.Error() != nil {
				log.Printf("paho subscribe: %v", token.Error())
				return
			}
			for {
				token := client.Publish(fmt.Sprintf("topic-%d", i), 0, false, "hello world")
				token.Wait()
				time.Sleep(1 * time.Second)
			}
		}(i)
	}
	select {}
}

func onMessageReceived(client paho_mqtt.Client, message paho_mqtt.Message) {
	log.Printf("paho received: topic=%s, msg=%s", message.Topic(), message.Payload())
}
