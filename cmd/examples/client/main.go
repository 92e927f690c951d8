package main

import (
	"bufio"
	"context"
	"flag"
	"os"

	"github.com/Atheer-Ganayem/wsengine"
	"go.uber.org/zap"
)

// Reads lines from stdin, sends each as a text message and prints the reply.
func main() {
	url := flag.String("url", "ws://localhost:8080/", "server url")
	level := flag.Int("level", 6, "deflate level, 0 disables compression")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	settings := wsengine.DefaultSettings()
	settings.ClientCompressionLevel = *level
	settings.ServerCompressionLevel = *level

	d := wsengine.NewDialer(&wsengine.Options{Settings: &settings, Logger: logger})
	conn, _, err := d.Dial(context.Background(), *url)
	if err != nil {
		logger.Fatal("dial failed", zap.Error(err))
	}
	defer conn.Close()

	logger.Info("connected", zap.String("extensions", conn.Extension().String()))

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := conn.WriteText(context.Background(), sc.Text()); err != nil {
			logger.Fatal("write failed", zap.Error(err))
		}

		reply, err := conn.ReadText()
		if wsengine.IsFatalErr(err) {
			logger.Fatal("connection closed", zap.Error(err))
		} else if err != nil {
			logger.Warn("read failed", zap.Error(err))
			continue
		}
		logger.Info("reply", zap.String("text", reply))
	}
}
