package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/config"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/contxt"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/coordinator"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/database"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/mqtt"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/publisher"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/server"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func RemiCommand(ctx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if v := ctx.String("remi-username"); v != "" {
		cfg.RemiCfg.Username = v
	}
	if v := ctx.String("remi-password"); v != "" {
		cfg.RemiCfg.Password = v
	}
	if v := ctx.Duration("poll-interval"); v != 0 {
		cfg.RemiCfg.PollInterval = v
	}
	if v := ctx.String("mqtt-host"); v != "" {
		cfg.MqttCfg.Host = v
	}
	if v := ctx.String("mqtt-user"); v != "" {
		cfg.MqttCfg.Username = v
	}
	if v := ctx.String("mqtt-pass"); v != "" {
		cfg.MqttCfg.Password = v
	}
	if v := ctx.String("database-url"); v != "" {
		cfg.Database.URL = v
	}
	if v := ctx.String("http-addr"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	return run(ctx.Context, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	var err error

	eg, ctx := errgroup.WithContext(ctx)
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	if cfg.RemiCfg.Username == "" || cfg.RemiCfg.Password == "" {
		return errors.New("remi username and password are required")
	}

	remiSvc := remi.New(cfg.RemiCfg)
	if err := remiSvc.Login(ctx); err != nil {
		var authErr *remi.AuthError
		if errors.As(err, &authErr) {
			return fmt.Errorf("invalid credentials: %w", err)
		}
		return fmt.Errorf("unable to reach urbanhello cloud: %w", err)
	}
	defer func() {
		remiSvc.Logout(contxt.NewContext(time.Second * 10))
	}()

	var history server.HistoryStore
	if cfg.Database.URL != "" {
		conn, err := pgx.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		db, err := database.NewDatabase(ctx, conn)
		if err != nil {
			return err
		}

		if err := publisher.RegisterPublisher("postgres", db); err != nil {
			return err
		}
		history = db
		eg.Go(func() error {
			return cronDbCleanup(ctx, db)
		})
	}

	if cfg.MqttCfg.Host != "" {
		opts := paho_mqtt.NewClientOptions()
		opts.AddBroker(cfg.MqttCfg.Host)
		opts.SetUsername(cfg.MqttCfg.Username)
		opts.SetPassword(cfg.MqttCfg.Password)
		opts.SetAutoReconnect(true)
		mqttSvc := mqtt.New(paho_mqtt.NewClient(opts))
		if err := mqttSvc.Connect(); err != nil {
			return err
		}
		defer mqttSvc.Disconnect()

		if err := publisher.RegisterPublisher("mqtt", mqttSvc); err != nil {
			return err
		}
	}

	devices, err := remiSvc.ListDevices(ctx, false)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errors.New("no remi devices on this account")
	}

	coords, err := initializeCoordinators(ctx, remiSvc, devices, cfg.RemiCfg.Interval())
	if err != nil {
		return err
	}
	for _, coord := range coords {
		coord := coord
		eg.Go(func() error {
			return coord.Run(ctx)
		})
	}

	eg.Go(func() error {
		return cronFaceCatalogRefresh(ctx, remiSvc)
	})

	eg.Go(func() error {
		srv := &http.Server{
			Handler:      server.New(remiSvc, coords, history).Router(),
			Addr:         cfg.HTTPAddr,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}

		eg.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(contxt.NewContext(time.Second * 10))
		})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

type deviceAPI interface {
	GetDeviceInfo(ctx context.Context, objectID string, refresh bool) (remi.DeviceInfo, error)
	GetAlarms(ctx context.Context, objectID string, refresh bool) ([]remi.Alarm, error)
}

// initializeCoordinators gates every device on its first refresh. A device
// whose first refresh fails is skipped entirely, so it is neither registered
// with publishers nor polled; setup fails only when no device initializes.
func initializeCoordinators(ctx context.Context, api deviceAPI, devices []remi.DeviceSummary, interval time.Duration) (map[string]*coordinator.Coordinator, error) {
	coords := make(map[string]*coordinator.Coordinator, len(devices))
	for _, device := range devices {
		coord := coordinator.New(api, device.ObjectID, device.Name, interval)
		coord.AddListener(func(snapshot *coordinator.Snapshot) {
			publisher.PublishSnapshot(contxt.NewContext(time.Second*30), snapshot)
		})
		if err := coord.FirstRefresh(ctx); err != nil {
			zap.L().Warn("first refresh failed, skipping device",
				zap.String("device", device.Name), zap.Error(err))
			continue
		}
		publisher.RegisterDevice(device)
		coords[device.ObjectID] = coord
	}
	if len(coords) == 0 {
		return nil, errors.New("no device completed its first refresh")
	}
	return coords, nil
}

func cronDbCleanup(ctx context.Context, db *database.Database) error {
	if err := db.Cleanup(contxt.NewContext(time.Minute)); err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc("0 3 * * *", func() {
		if err := db.Cleanup(contxt.NewContext(time.Minute)); err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			return
		}
		zap.L().Info("pruned old sensor values")
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	c.Stop()
	return ctx.Err()
}

// cronFaceCatalogRefresh re-reads the face catalog daily so renamed or
// newly published faces resolve without a restart.
func cronFaceCatalogRefresh(ctx context.Context, svc interface {
	Faces(ctx context.Context, refresh bool) (map[string]string, error)
},
) error {
	c := cron.New()
	if _, err := c.AddFunc("30 4 * * *", func() {
		if _, err := svc.Faces(contxt.NewContext(time.Second*30), true); err != nil {
			zap.L().Warn("face catalog refresh failed", zap.Error(err))
			return
		}
		zap.L().Debug("refreshed face catalog")
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	c.Stop()
	return ctx.Err()
}
