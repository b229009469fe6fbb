package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/voltaic/blockcryptd/blockdev"
	"github.com/voltaic/blockcryptd/common"
	"github.com/voltaic/blockcryptd/cryptenable"
	"github.com/voltaic/blockcryptd/devmapper"
	"github.com/voltaic/blockcryptd/httpserver"
	"github.com/voltaic/blockcryptd/inplace"
	"github.com/voltaic/blockcryptd/interfaces"
	"github.com/voltaic/blockcryptd/keystore"
	"github.com/voltaic/blockcryptd/mount"
	"github.com/voltaic/blockcryptd/props"
)

var volumeFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "device",
		Usage:   "raw backing block device of the data volume",
		EnvVars: []string{"DATA_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "device-glob",
		Usage:   "glob pattern resolving the raw backing device (used when --device is unset)",
		EnvVars: []string{"DATA_DEVICE_GLOB"},
	},
	&cli.StringFlag{
		Name:    "mount-point",
		Value:   "/data",
		Usage:   "mount point for the mapped data volume",
		EnvVars: []string{"DATA_MOUNT_POINT"},
	},
	&cli.StringFlag{
		Name:    "key-dir",
		Value:   "/metadata/crypt",
		Usage:   "directory holding the volume key material",
		EnvVars: []string{"KEY_DIR"},
	},
	&cli.StringFlag{
		Name:    "key-storage",
		Value:   "file://",
		Usage:   "key storage location URI: file:// or vault://host/mount",
		EnvVars: []string{"KEY_STORAGE"},
	},
	&cli.StringFlag{
		Name:    "fsck-domain",
		Usage:   "security domain for the filesystem check tool, scoped to the fsck invocation",
		EnvVars: []string{"FSCK_DOMAIN"},
	},
}

var serveFlags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the control API",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

var logFlags []cli.Flag = []cli.Flag{
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	},
}

func main() {
	app := &cli.App{
		Name:  "blockcryptd",
		Usage: "Bring the encrypted data volume online, converting it in place on first use",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the control API daemon",
				Flags: append(append([]cli.Flag{}, volumeFlags...), append(serveFlags, logFlags...)...),
				Action: func(cCtx *cli.Context) error {
					return runServe(cCtx)
				},
			},
			{
				Name:  "mount",
				Usage: "Mount the already-encrypted data volume once and exit",
				Flags: append(append([]cli.Flag{}, volumeFlags...), logFlags...),
				Action: func(cCtx *cli.Context) error {
					svc, logger, err := buildService(cCtx)
					if err != nil {
						return err
					}
					if err := svc.MountExistingEncrypted(context.Background()); err != nil {
						logger.Error("Mount of encrypted volume failed", "err", err)
						return err
					}
					logger.Info("Encrypted volume mounted")
					return nil
				},
			},
			{
				Name:  "enable",
				Usage: "Convert the unencrypted data volume in place once and exit",
				Flags: append(append([]cli.Flag{}, volumeFlags...), logFlags...),
				Action: func(cCtx *cli.Context) error {
					svc, logger, err := buildService(cCtx)
					if err != nil {
						return err
					}
					if err := svc.EnableEncryptionInPlace(context.Background()); err != nil {
						logger.Error("Encryption enablement failed", "err", err)
						return err
					}
					logger.Info("Encryption enabled")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: cCtx.String("log-service"),
		Version: common.Version,
	})

	if cCtx.Bool("log-uid") {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func resolveDevice(cCtx *cli.Context) (string, error) {
	if device := cCtx.String("device"); device != "" {
		return device, nil
	}
	if glob := cCtx.String("device-glob"); glob != "" {
		return blockdev.DevicePathForGlob(glob)
	}
	return "", fmt.Errorf("either --device or --device-glob is required")
}

func buildService(cCtx *cli.Context) (*cryptenable.Service, *slog.Logger, error) {
	logger := setupLogger(cCtx)

	device, err := resolveDevice(cCtx)
	if err != nil {
		return nil, nil, err
	}

	keys, err := keystore.NewBackendFactory(logger).KeyStorageFor(cCtx.String("key-storage"))
	if err != nil {
		return nil, nil, err
	}

	mounter := mount.NewExecMounter(logger)
	mounter.FsckDomain = cCtx.String("fsck-domain")

	svc, err := cryptenable.New(cryptenable.Config{
		Log:  logger,
		Keys: keys,
		Volumes: cryptenable.StaticVolumeSource{Volume: interfaces.VolumeDescriptor{
			BlockDevice: device,
			MountPoint:  cCtx.String("mount-point"),
			KeyDir:      cCtx.String("key-dir"),
		}},
		Sizer:     blockdev.Sizer{},
		DM:        devmapper.New(devmapper.Config{Log: logger}),
		Mounter:   mounter,
		Transform: inplace.NewCopier(logger),
		Props:     props.NewExec(logger),
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}

func runServe(cCtx *cli.Context) error {
	svc, logger, err := buildService(cCtx)
	if err != nil {
		return err
	}

	dm := devmapper.New(devmapper.Config{Log: logger})
	handler := httpserver.NewHandler(svc, dm, cryptenable.MappingName, logger)

	server := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String("listen-addr"),
		Log:                      logger,
		EnablePprof:              cCtx.Bool("pprof"),
		DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// The enable operation holds its request for the full in-place
		// transform, so responses must not be deadlined.
		WriteTimeout: 0,
	}, handler)

	logger.Info("Starting server")
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
