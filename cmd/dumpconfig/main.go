package main

import (
	"flag"
	"log"
	"net/url"
	"os"

	"github.com/goccy/go-json"

	"github.com/ncecere/open_chat_usage/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to usaged config file")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg.Auth.JWTSecret = redact(cfg.Auth.JWTSecret)
	cfg.Database.URL = redactURL(cfg.Database.URL)
	cfg.Redis.URL = redactURL(cfg.Redis.URL)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
