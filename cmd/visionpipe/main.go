package main

import (
	"flag"
	"log"

	"gocv.io/x/gocv"

	"visionpipe/internal/config"
	"visionpipe/internal/engine"
	"visionpipe/internal/logging"
	"visionpipe/internal/vision"
)

func main() {
	configPath := flag.String("config", "engine.yml", "engine configuration file")
	flag.Parse()
	logging.InitFromEnv()

	if flag.NArg() == 0 {
		log.Fatal("usage: visionpipe [-config engine.yml] image [image ...]")
	}

	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	e, err := engine.Bootstrap(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	images := make([]*vision.Mat, 0, flag.NArg())
	for _, path := range flag.Args() {
		raw := gocv.IMRead(path, gocv.IMReadColor)
		if raw.Empty() {
			log.Fatalf("read image %s: empty or unreadable", path)
		}
		m, err := vision.NewFromGoCV(raw)
		if err != nil {
			log.Fatalf("image %s: %v", path, err)
		}
		defer m.Close()
		images = append(images, m)
	}

	out, err := e.Preprocessor().Run(images)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	logging.L().Info("preprocessed batch",
		"pipeline", e.Preprocessor().Steps(),
		"shape", out.Shape,
		"device", out.DeviceID,
	)
}
