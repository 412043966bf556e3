// Command farmai is a headless FarmAI client: it signs in against the API and tracks a
// simulated device, streaming its fixes to the backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmai/config"
	"farmai/internal/apiclient"
	"farmai/internal/device"
	"farmai/internal/geo"
	"farmai/internal/locstate"
	"farmai/internal/notify"
	"farmai/internal/permission"
	"farmai/internal/session"
	"farmai/internal/storage"
	"farmai/internal/tracker"
	"farmai/internal/uplink"
)

type flags struct {
	cmd      string
	username string
	email    string
	login    string
	password string
	otp      string
	lat      float64
	lng      float64
	step     float64
	duration time.Duration
	deny     bool
	verbose  bool
}

func main() {
	var f flags
	flag.StringVar(&f.cmd, "cmd", "whoami", "Command: register|verify|resend|login|logout|whoami|track")
	flag.StringVar(&f.username, "username", "", "Username (register)")
	flag.StringVar(&f.email, "email", "", "Email (register, verify, resend)")
	flag.StringVar(&f.login, "login", "", "Username or email (login)")
	flag.StringVar(&f.password, "password", "", "Password (register, login)")
	flag.StringVar(&f.otp, "otp", "", "6-digit code (verify)")
	flag.Float64Var(&f.lat, "lat", -1.2921, "Simulated device latitude (track)")
	flag.Float64Var(&f.lng, "lng", 36.8219, "Simulated device longitude (track)")
	flag.Float64Var(&f.step, "step", 0.0002, "Degrees of latitude walked per second (track)")
	flag.DurationVar(&f.duration, "duration", 10*time.Second, "How long to track (track)")
	flag.BoolVar(&f.deny, "deny", false, "Deny the location prompt (track)")
	flag.BoolVar(&f.verbose, "v", false, "Debug logging")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	kv, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()
	vault := storage.NewVault(kv)

	bus := notify.NewBus(log)
	defer bus.Register(printMessage)()

	api := apiclient.New(cfg.Client.BaseURL, vault, apiclient.WithTimeout(cfg.Client.Timeout), apiclient.WithLogger(log))
	m := session.New(api, vault,
		session.WithLogger(log),
		session.WithBus(bus),
		session.WithResendCooldown(cfg.OTP.ResendCooldown),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	m.Initialize(ctx)

	switch f.cmd {
	case "register":
		_, err = m.Register(ctx, f.username, f.email, f.password)
	case "verify":
		_, err = m.VerifyOTP(ctx, f.email, f.otp)
	case "resend":
		_, err = m.ResendOTP(ctx, f.email)
	case "login":
		_, err = m.Login(ctx, f.login, f.password)
	case "logout":
		err = m.Logout(ctx)
	case "whoami":
		err = whoami(ctx, m)
	case "track":
		err = track(ctx, cfg, f, m, vault, bus, log)
	default:
		return fmt.Errorf("unknown command %q", f.cmd)
	}
	if err != nil {
		return err
	}
	fmt.Printf("session: %s\n", m.State().Phase)
	return nil
}

func whoami(ctx context.Context, m *session.Manager) error {
	st := m.State()
	if !st.Authenticated() {
		fmt.Printf("not signed in (%s)\n", st.Route())
		return nil
	}
	u, err := m.Profile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s> active=%t\n", u.Username, u.Email, u.IsActive)
	return nil
}

func track(ctx context.Context, cfg *config.Config, f flags, m *session.Manager, vault *storage.Vault, bus *notify.Bus, log *slog.Logger) error {
	perms := device.NewPermissions()
	if f.deny {
		perms.Answer(permission.Fine, permission.Denied)
	}
	gps := device.NewGPS(f.lat, f.lng)

	store := locstate.NewStore()
	gate := permission.NewGateway(perms, log)
	engine := geo.NewEngine(gps, geo.OptionsFromConfig(cfg.Location), log)
	p := tracker.New(gate, engine, store, cfg.Location, bus, log)

	defer store.Subscribe(func(s locstate.State) {
		switch {
		case s.Error != "":
			fmt.Printf("location error: %s\n", s.Error)
		case s.Coordinates != nil:
			fmt.Printf("location: %s ±%s watching=%t\n", geo.FormatLocation(*s.Coordinates), s.Accuracy, s.Watching)
		}
	})()

	if m.State().Authenticated() {
		endpoint, err := uplink.Endpoint(cfg.Client.BaseURL)
		if err != nil {
			return err
		}
		up := uplink.New(endpoint, vault, log)
		if err := up.Connect(ctx); err != nil {
			log.Warn("uplink unavailable; tracking locally", "err", err)
		} else {
			defer up.Close()
			defer up.Attach(store)()
			defer func() { fmt.Printf("fixes accepted by server: %d\n", up.Acked()) }()
		}
	}

	p.Mount(ctx)
	defer p.Unmount()
	if !p.Permissions().LocationEnabled() && !p.RequestPermissions(ctx) && !p.Permissions().LocationEnabled() {
		return errors.New("location permission refused")
	}

	walk := time.NewTicker(time.Second)
	defer walk.Stop()
	deadline := time.After(f.duration)
	lat := f.lat
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-walk.C:
			lat += f.step
			gps.MoveTo(lat, f.lng, 5)
		}
	}
}

func printMessage(msg notify.Message) {
	if msg.Body == "" {
		fmt.Printf("[%s] %s\n", msg.Level, msg.Title)
		return
	}
	fmt.Printf("[%s] %s: %s\n", msg.Level, msg.Title, msg.Body)
}
