package main

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/config"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logstream"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/metrics"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/mqtt"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/sensor"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/serial"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/server"
)

//go:embed public
var publicFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := logstream.NewHub()
	go hub.Run()
	defer hub.Stop()

	appDir, err := config.AppDir()
	if err != nil {
		logger.Fatal("%v", err)
	}
	if err := logger.Setup(filepath.Join(appDir, "bridge.log"), hub); err != nil {
		logger.Fatal("Could not set up log file: %v", err)
	}
	defer logger.Close()

	configPath, err := config.DefaultPath()
	if err != nil {
		logger.Fatal("%v", err)
	}
	if err := config.Load(configPath); err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	config.Watch(func(c *config.Config) {
		logger.Info("Log level is now %s. Serial and network changes apply after restart.", logger.Level())
	})
	conf := config.Get()

	logger.Info("===========================================================")
	logger.Info("==              Arduino Climate Control Bridge           ==")
	logger.Info("===========================================================")

	cache := sensor.NewCache()
	pipeline := sensor.NewPipeline(cache)
	pipeline.AddSink(metrics.ReadingSink{})
	pipeline.OnDrop(metrics.ReadingSink{})

	if conf.MQTTBroker != "" {
		pub, err := mqtt.Connect(conf.MQTTBroker, conf.MQTTClientID, conf.MQTTTopic)
		if err != nil {
			logger.Warn("MQTT republishing disabled: %v", err)
		} else {
			pipeline.AddSink(pub)
			defer pub.Close()
		}
	}

	link := serial.New(serial.Options{
		PortName:   conf.SerialPortName,
		BaudRate:   conf.BaudRate,
		ResetDelay: conf.ResetDelay,
	})
	if err := link.Open(); err != nil {
		logger.Warn("Running without a device: readings will not update and commands return 503.")
	} else {
		go link.ReadLines(ctx, func(line string) {
			pipeline.HandleLine(line)
		})
	}
	metrics.SetLinkUp(link.IsOpen())
	defer link.Close()

	assets, err := fs.Sub(publicFS, "public")
	if err != nil {
		logger.Fatal("Could not load web assets: %v", err)
	}

	api := server.NewAPI(link, cache, server.Options{
		CommandTimeout:     conf.CommandTimeout,
		SingleCharCommands: conf.SingleCharCommands,
		MetricsEnabled:     conf.MetricsEnabled,
		Assets:             assets,
		LogStream:          hub.ServeWs,
	})

	if err := server.Start(ctx, conf.Addr(), api.Handler()); err != nil {
		logger.Fatal("%v. Please check your configuration.", err)
	}
	logger.Info("Bridge stopped.")
}
