package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/omochice/tine/internal/auth"
	"github.com/omochice/tine/internal/config"
	"github.com/omochice/tine/internal/console"
	"github.com/omochice/tine/internal/logger"
	"github.com/omochice/tine/internal/stream"
	"github.com/omochice/tine/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (yaml, json or toml)")
	endpoint := flag.String("endpoint", "", "WebSocket endpoint (e.g., ws://127.0.0.1:3000)")
	email := flag.String("email", "", "Account email used to sign in")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *email != "" {
		cfg.Auth.Email = *email
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	l, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Sync()

	if err := cfg.Validate(); err != nil {
		l.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := console.New(os.Stdin, os.Stdout)

	token, err := signIn(ctx, cfg, con, l)
	if err != nil {
		l.Fatal("Failed to authenticate", zap.Error(err))
	}

	dialOpts := []ws.DialOption{ws.WithTimeout(cfg.Session.DialTimeout)}
	if h := cfg.Session.HandshakeHeader(); h != nil {
		dialOpts = append(dialOpts, ws.WithHeader(h))
	}
	conn, err := ws.Dial(ctx, cfg.Endpoint, dialOpts...)
	if err != nil {
		l.Fatal("Failed to connect to server", zap.Error(err))
	}
	conn.SetReadLimit(cfg.Session.ReadLimit)
	l.Info("Connected", zap.String("endpoint", cfg.Endpoint))

	s := stream.NewSession(conn, con, l,
		stream.WithAuthEvent(cfg.Session.AuthEvent),
		stream.WithPingPayload([]byte(cfg.Session.PingPayload)),
		stream.WithCloseTimeout(cfg.Session.CloseTimeout),
	)
	_ = s.Run(ctx, token)

	l.Info("Exited")
}

// signIn returns the ID token presented by the session. Without a
// pre-issued token it signs in, prompting for missing credentials.
func signIn(ctx context.Context, cfg *config.Config, con *console.Console, l *zap.Logger) (string, error) {
	a := auth.New(cfg.Auth.APIKey, cfg.Auth.Token,
		auth.WithEndpoint(cfg.Auth.Endpoint),
		auth.WithTimeout(cfg.Auth.Timeout),
		auth.WithLogger(l),
	)

	email, password := cfg.Auth.Email, cfg.Auth.Password
	if cfg.Auth.Token == "" {
		var err error
		if email == "" {
			if email, err = con.Prompt(ctx, "Email: "); err != nil {
				return "", err
			}
		}
		if password == "" {
			if password, err = con.Prompt(ctx, "Password: "); err != nil {
				return "", err
			}
		}
	}
	return a.Authenticate(ctx, email, password)
}
