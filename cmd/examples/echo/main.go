package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/Atheer-Ganayem/wsengine"
	"go.uber.org/zap"
)

var upgrader *wsengine.Upgrader

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	config := flag.String("config", "", "path to a YAML settings file")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	settings := wsengine.DefaultSettings()
	if *config != "" {
		if settings, err = wsengine.LoadSettings(*config); err != nil {
			logger.Fatal("failed to load settings", zap.Error(err))
		}
	}

	upgrader = wsengine.NewUpgrader(&wsengine.Options{
		Settings: &settings,
		Logger:   logger,
	})

	http.HandleFunc("/", handler)

	logger.Info("server listening", zap.String("addr", *addr), zap.Bool("compression", settings.CompressionEnabled()))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
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
			continue
		}

		err = conn.WriteMessage(context.TODO(), t, data)
		if wsengine.IsFatalErr(err) {
			return // Connection closed
		} else if err != nil {
			continue
		}
	}
}
