package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Atheer-Ganayem/wsengine"
)

var upgrader *wsengine.Upgrader

func main() {
	upgrader = wsengine.NewUpgrader(&wsengine.Options{
		Settings: &wsengine.Settings{
			MaxFrameSize:           wsengine.DefaultMaxFrameSize * 2,
			MaxMessageSize:         wsengine.DefaultMaxMessageSize * 2, // autobahn tests messages up to 16MB
			ServerCompressionLevel: 6,                                  // the 12.x and 13.x cases need permessage-deflate
		},
		WriteBufferSize: 64 << 10,
	})

	http.HandleFunc("/", handler)

	fmt.Println("Server listening on port 8080")
	http.ListenAndServe(":8080", nil)
}

func handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		t, data, err := conn.ReadMessage()
		if wsengine.IsFatalErr(err) {
			return // Connection closed
		} else if err != nil {
			fmt.Println("Non-fatal error:", err)
			continue
		}

		err = conn.WriteMessage(context.TODO(), t, data)
		if wsengine.IsFatalErr(err) {
			fmt.Println("fatal", err)
			return // Connection closed
		} else if err != nil {
			fmt.Println("Non-fatal error:", err)
			continue
		}
	}
}
