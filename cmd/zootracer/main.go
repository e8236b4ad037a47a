package main

import (
	"context"
	"fmt"
	"os"
	"time"

	zootracer "github.com/microsoft/ZooTracer"
	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/projector"
	"github.com/microsoft/ZooTracer/repl"
	"github.com/microsoft/ZooTracer/server"
	"github.com/microsoft/ZooTracer/utils"
	"github.com/microsoft/ZooTracer/video"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, args, err := config.Load(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	log := utils.NewDefaultLogger(utils.ParseLevel(cfg.Log.Level))

	if len(args) > 0 && args[0] == "build_pca" {
		if err := buildPCA(cfg); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		return
	}
	if err := run(cfg, log); err != nil {
		log.Error("zootracer stopped", "err", err)
		os.Exit(1)
	}
}

// buildPCA is the child side of the projector job: progress lines go to
// stdout where the parent relays them to its console.
func buildPCA(cfg *config.Config) error {
	src, err := video.Open(cfg.VideoFilePath)
	if err != nil {
		return err
	}
	defer src.Close()
	key := projector.KeyOf(cfg.Settings)
	return projector.BuildToCache(context.Background(), src, key, key.Path(cfg.VideoFilePath), func(line string) {
		_, _ = fmt.Fprintln(os.Stdout, line)
	})
}

func run(cfg *config.Config, log utils.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracer := zootracer.New(zootracer.Options{
		Config:     cfg,
		Log:        log,
		Registerer: reg,
	})
	defer tracer.Close()

	if cfg.Server.Listen != "" {
		srv := server.New(tracer, reg, log)
		go func() {
			if err := srv.ListenAndServe(cfg.Server.Listen); err != nil {
				log.Error("http server failed", "addr", cfg.Server.Listen, "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		log.Info("serving", "addr", cfg.Server.Listen)
	}

	watcher, err := config.NewWatcher(cfg.Path, func(c *config.Config) {
		if err := tracer.Apply(c.Settings); err != nil {
			log.Warn("settings file rejected", "path", c.Path, "err", err)
		}
	}, func(err error) {
		log.Warn("settings file unreadable", "path", cfg.Path, "err", err)
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		log.Warn("not watching settings file", "path", cfg.Path, "err", err)
	} else {
		defer watcher.Stop()
	}

	console := &repl.REPL{Host: tracer}
	if err := console.Open(); err != nil {
		return err
	}
	defer console.Close()
	return console.Run()
}
