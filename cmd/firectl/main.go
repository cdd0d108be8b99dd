package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/fire-api/internal/client"
)

func main() {
	server := flag.String("server", "http://localhost:8003", "API base URL")
	mode := flag.String("mode", "data", "data, visual, image, batch or info")
	out := flag.String("out", "", "where to write the annotated PNG (visual and image modes)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, client.New(*server), *mode, *out, flag.Args()); err != nil {
		log.WithError(err).Fatal("Request failed")
	}
}

func run(ctx context.Context, c *client.Client, mode, out string, files []string) error {
	if mode != "info" && len(files) == 0 {
		return fmt.Errorf("mode %s needs at least one file", mode)
	}

	switch mode {
	case "info":
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)

	case "data":
		for _, f := range files {
			res, err := c.Predict(ctx, f)
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			if err := printJSON(res); err != nil {
				return err
			}
		}
		return nil

	case "visual":
		res, err := c.PredictVisual(ctx, files[0])
		if err != nil {
			return err
		}
		if out != "" && res.AnnotatedImage != nil {
			data, err := client.DecodeDataURI(*res.AnnotatedImage)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
		}
		// Keep the terminal readable.
		res.AnnotatedImage = nil
		return printJSON(res)

	case "image":
		if out == "" {
			out = "detections.png"
		}
		data, err := c.PredictImage(ctx, files[0])
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)

	case "batch":
		items, err := c.PredictBatch(ctx, files)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"results": items})

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
