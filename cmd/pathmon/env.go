package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// loadEnvFile reads an optional .env from the working directory. Its
// values seed the flag defaults, so flags still win.
func loadEnvFile() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("cannot read .env")
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return d
}

func envUint(key string, fallback uint) uint {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		logrus.Warnf("ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return uint(n)
}

// envList splits a comma separated variable into its entries.
func envList(key string) (items []string) {
	for _, f := range strings.Split(os.Getenv(key), ",") {
		if f = strings.TrimSpace(f); f != "" {
			items = append(items, f)
		}
	}
	return
}
