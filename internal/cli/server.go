package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"github.com/brianh20/many-go/internal/config"
	"github.com/brianh20/many-go/internal/logging"
	"github.com/brianh20/many-go/pkg/kvstore"
	"github.com/brianh20/many-go/pkg/module"
	"github.com/brianh20/many-go/pkg/server"
	"github.com/brianh20/many-go/pkg/signer"
)

func newServerCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server --config <file>",
		Short: "Run the MANY-protocol HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "many-server.yaml", "path to the server configuration file")
	return cmd
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(cfg.Log); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	self, err := loadServerSigner(cfg)
	if err != nil {
		return fmt.Errorf("load server signing key: %w", err)
	}

	async := module.NewAsyncManager(time.Duration(cfg.Async.TTLSeconds) * time.Second)

	srv, err := server.New(server.Config{
		Addr: cfg.Server.Addr(),
		Name: "many-server",
		Path: cfg.Server.Path,
	}, self, async)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	kv, err := openKVStoreBackend(cfg.KVStore)
	if err != nil {
		return fmt.Errorf("open kvstore backend: %w", err)
	}
	kvMod, err := kvstore.NewModule(kv)
	if err != nil {
		return fmt.Errorf("build kvstore module: %w", err)
	}
	if err := srv.Register(kvMod); err != nil {
		return fmt.Errorf("register kvstore module: %w", err)
	}
	srv.RegisterAttribute(kvstore.AttributeID)

	log.WithField("addr", cfg.Server.Addr()).Info("starting many-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

func loadServerSigner(cfg *config.Config) (signer.Signer, error) {
	if cfg.HSM != nil {
		return signer.NewHSMSigner(signer.HSMConfig{
			ModulePath: cfg.HSM.ModulePath,
			Slot:       cfg.HSM.Slot,
			KeyLabel:   cfg.HSM.KeyLabel,
			PIN:        cfg.HSM.PIN,
		})
	}
	data, err := os.ReadFile(cfg.Keys.Private)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	return signer.NewSoftwareSignerFromPEM(string(data))
}

func openKVStoreBackend(cfg config.KVStoreConfig) (kvstore.Backend, error) {
	if cfg.Path == "" {
		return kvstore.NewMemoryBackend(), nil
	}
	return kvstore.OpenSQLiteBackend(cfg.Path)
}
